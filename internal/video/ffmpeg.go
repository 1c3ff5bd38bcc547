// Package video decodes video files into RGB frames by driving the ffprobe
// and ffmpeg binaries.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/banshee-data/cycle.report/internal/monitoring"
)

// ErrNoVideoStream is returned when the container has no decodable video.
var ErrNoVideoStream = errors.New("no video stream")

// Info is the metadata needed to sample a video.
type Info struct {
	Width      int
	Height     int
	FrameRate  float64
	FrameCount int // container header count, 0 when not recorded
}

// Frame is one decoded frame and its zero-based position in the stream.
type Frame struct {
	Index int
	Image *image.RGBA
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	NbFrames     string `json:"nb_frames"`
}

// Probe queries frame rate, frame count and dimensions with ffprobe.
func Probe(ctx context.Context, ffprobePath, filePath string) (*Info, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-select_streams", "v:0",
		"-show_streams",
		filePath)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", filePath, err)
	}
	info, err := parseProbe(out)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", filePath, err)
	}
	return info, nil
}

func parseProbe(out []byte) (*Info, error) {
	var data ffprobeOutput
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, fmt.Errorf("parse ffprobe: %w", err)
	}

	for _, s := range data.Streams {
		if s.CodecType != "video" {
			continue
		}
		rate := parseRate(s.AvgFrameRate)
		if rate <= 0 {
			rate = parseRate(s.RFrameRate)
		}
		info := &Info{Width: s.Width, Height: s.Height, FrameRate: rate}
		if n, err := strconv.Atoi(s.NbFrames); err == nil {
			info.FrameCount = n
		}
		if info.Width <= 0 || info.Height <= 0 {
			return nil, fmt.Errorf("invalid frame size %dx%d", info.Width, info.Height)
		}
		return info, nil
	}
	return nil, ErrNoVideoStream
}

// parseRate parses ffprobe rates such as "30000/1001" or "25". Unparseable
// or undefined ("0/0") rates return 0.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Reader streams decoded frames from an ffmpeg subprocess.
type Reader struct {
	info  Info
	src   io.Reader
	buf   []byte
	next  int
	eof   bool
	close func() error
}

// Open probes filePath and starts ffmpeg decoding it to raw RGB24 on a pipe.
func Open(ctx context.Context, ffmpegPath, ffprobePath, filePath string) (*Reader, error) {
	info, err := Probe(ctx, ffprobePath, filePath)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-v", "error",
		"-i", filePath,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	r := newReader(stdout, *info)
	r.close = func() error {
		stdout.Close()
		err := cmd.Wait()
		if err == nil {
			return nil
		}
		// A caller that stops before EOF breaks the pipe; that exit status
		// says nothing about the frames already returned.
		if !r.eof && r.next > 0 {
			return nil
		}
		return fmt.Errorf("ffmpeg %s after %d frames: %w", filePath, r.next, err)
	}
	return r, nil
}

func newReader(src io.Reader, info Info) *Reader {
	r := &Reader{info: info, src: src}
	r.buf = make([]byte, r.frameSize())
	return r
}

func (r *Reader) frameSize() int {
	return r.info.Width * r.info.Height * 3
}

// Info returns the probed metadata.
func (r *Reader) Info() Info {
	return r.info
}

// FrameRate returns frames per second.
func (r *Reader) FrameRate() float64 {
	return r.info.FrameRate
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (Frame, error) {
	if err := r.read(); err != nil {
		return Frame{}, err
	}

	w, h := r.info.Width, r.info.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for p, q := 0, 0; p < len(r.buf); p, q = p+3, q+4 {
		img.Pix[q] = r.buf[p]
		img.Pix[q+1] = r.buf[p+1]
		img.Pix[q+2] = r.buf[p+2]
		img.Pix[q+3] = 0xff
	}

	f := Frame{Index: r.next, Image: img}
	r.next++
	return f, nil
}

// Skip discards the next frame without converting it. It returns io.EOF
// once the stream is exhausted.
func (r *Reader) Skip() error {
	if err := r.read(); err != nil {
		return err
	}
	r.next++
	return nil
}

// read fills buf with the next raw frame.
func (r *Reader) read() error {
	if _, err := io.ReadFull(r.src, r.buf); err != nil {
		if errors.Is(err, io.EOF) {
			r.eof = true
			if r.info.FrameCount > 0 && r.next != r.info.FrameCount {
				monitoring.Logf("decoded %d frames, container reports %d", r.next, r.info.FrameCount)
			}
			return io.EOF
		}
		return fmt.Errorf("frame %d: %w", r.next, err)
	}
	return nil
}

// Close stops decoding and reaps the subprocess.
func (r *Reader) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}
