package streamio

import (
	"fmt"
	"io"
	"os/exec"
	"sync"

	"videoguard/internal/analyzererr"
	"videoguard/internal/frame"
)

// Writer encodes a sequence of JPEG frames into an H.264/MP4 file via an
// ffmpeg subprocess fed on stdin, grounded on the teacher's queue-drained
// single-consumer VideoStreamWriter pattern.
type Writer struct {
	path string

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	queue   chan frame.Frame
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
	writeErr error
}

// Open starts the ffmpeg encoder subprocess writing to path at fps with the
// given frame size, and starts the background drain goroutine.
func Open(path string, fps int, width, height int) (*Writer, error) {
	args := []string{
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", fps),
		"-i", "-",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-y",
		path,
	}

	cmd := exec.Command("ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, analyzererr.NewClipWriterError(path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, analyzererr.NewClipWriterError(path, err)
	}

	w := &Writer{
		path:  path,
		cmd:   cmd,
		stdin: stdin,
		queue: make(chan frame.Frame, 256),
	}

	w.wg.Add(1)
	go w.drain()

	return w, nil
}

func (w *Writer) drain() {
	defer w.wg.Done()
	for f := range w.queue {
		if _, err := w.stdin.Write(f.Image); err != nil {
			w.writeErr = err
		}
	}
}

// Write enqueues one or more frames on a 256-frame buffered queue. It does
// not wait for the encoder, but it blocks while that queue is full.
func (w *Writer) Write(frames ...frame.Frame) {
	for _, f := range frames {
		w.queue <- f
	}
}

// End drains the queue, closes the encoder's stdin, and waits for ffmpeg to
// exit. Idempotent.
func (w *Writer) End() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	close(w.queue)
	w.wg.Wait()
	_ = w.stdin.Close()

	if err := w.cmd.Wait(); err != nil {
		return analyzererr.NewClipWriterError(w.path, err)
	}
	if w.writeErr != nil {
		return analyzererr.NewClipWriterError(w.path, w.writeErr)
	}
	return nil
}
