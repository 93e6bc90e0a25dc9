package recorder

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	wav "github.com/youpy/go-wav"

	"github.com/goldenfocus/vibelog-capture/media"
)

// FFmpegEncoder encodes video (plus optional audio) recordings into an
// MP4 by streaming raw frames into an ffmpeg child process, then muxing
// the audio in a second pass. Preferred when the stream carries video
// and ffmpeg is installed.
type FFmpegEncoder struct {
	log *log.Logger
}

// NewFFmpegEncoder returns the ffmpeg-backed MP4 encoder.
func NewFFmpegEncoder(logger *log.Logger) *FFmpegEncoder {
	return &FFmpegEncoder{log: logger}
}

func (e *FFmpegEncoder) Name() string     { return "ffmpeg-mp4" }
func (e *FFmpegEncoder) MimeType() string { return "video/mp4" }

// Supports requires a live video track and an ffmpeg binary on PATH.
func (e *FFmpegEncoder) Supports(stream *media.Stream) bool {
	track := stream.FirstVideo()
	if track == nil || !track.Live() {
		return false
	}
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// NewSession starts the video encode immediately; frames are sampled
// from the track at its nominal rate and written to ffmpeg's stdin so
// memory stays bounded regardless of recording length.
func (e *FFmpegEncoder) NewSession(stream *media.Stream, chunkInterval time.Duration) (Session, error) {
	video := stream.FirstVideo()
	audio := stream.FirstAudio()

	dir, err := os.MkdirTemp("", "vibelog-rec-*")
	if err != nil {
		return nil, err
	}

	videoPath := filepath.Join(dir, "video.mp4")
	fps := video.FPS()
	if fps <= 0 {
		fps = 30
	}
	cmd := exec.Command("ffmpeg",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", video.Width(), video.Height()),
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-y",
		videoPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	s := &ffmpegSession{
		log:       e.log,
		dir:       dir,
		videoPath: videoPath,
		cmd:       cmd,
		stdin:     stdin,
		video:     video,
		stop:      make(chan struct{}),
	}

	if audio != nil && audio.Live() {
		s.sampleRate = audio.SampleRate()
		s.channels = audio.Channels()
		tapID, ch := audio.Tap(64)
		s.audioTap = tapID
		s.audioTrack = audio
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.stop:
					return
				case block, ok := <-ch:
					if !ok {
						return
					}
					s.mu.Lock()
					s.audioChunks = append(s.audioChunks, block)
					s.mu.Unlock()
				}
			}
		}()
	}

	s.wg.Add(1)
	go s.pumpFrames(fps)
	return s, nil
}

type ffmpegSession struct {
	log       *log.Logger
	dir       string
	videoPath string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	video     *media.VideoTrack

	audioTrack *media.AudioTrack
	audioTap   int
	sampleRate int
	channels   int

	mu          sync.Mutex
	audioChunks [][]int16
	wroteFrames bool
	stop        chan struct{}
	once        sync.Once
	wg          sync.WaitGroup
}

// pumpFrames samples the latest frame at the track's nominal cadence
// and feeds it to ffmpeg. Repeating the latest frame on a slow source
// keeps the timeline continuous.
func (s *ffmpegSession) pumpFrames(fps int) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var last *image.RGBA
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			frame := s.video.Latest()
			if frame == nil {
				frame = last
			}
			if frame == nil {
				continue
			}
			last = frame
			if _, err := s.stdin.Write(frame.Pix); err != nil {
				s.log.Printf("ffmpeg frame write: %v", err)
				return
			}
			s.mu.Lock()
			s.wroteFrames = true
			s.mu.Unlock()
		}
	}
}

func (s *ffmpegSession) halt() {
	s.once.Do(func() {
		close(s.stop)
		if s.audioTrack != nil {
			s.audioTrack.Untap(s.audioTap)
		}
	})
	s.wg.Wait()
}

// Finalize closes the video pipe, waits for the encode, muxes in the
// accumulated audio if any, and returns the MP4 bytes.
func (s *ffmpegSession) Finalize() ([]byte, error) {
	s.halt()
	defer os.RemoveAll(s.dir)

	s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		s.mu.Lock()
		wrote := s.wroteFrames
		s.mu.Unlock()
		if wrote {
			return nil, fmt.Errorf("ffmpeg encode: %w", err)
		}
		// No frames ever arrived: ffmpeg exits unhappy with an empty
		// input. Surface that as an encode failure too, but be clear.
		return nil, fmt.Errorf("ffmpeg encode: no frames captured: %w", err)
	}

	outPath := s.videoPath
	if len(s.audioChunks) > 0 {
		audioPath := filepath.Join(s.dir, "audio.wav")
		if err := s.writeAudioWAV(audioPath); err != nil {
			return nil, err
		}
		muxed := filepath.Join(s.dir, "muxed.mp4")
		cmd := exec.Command("ffmpeg",
			"-i", s.videoPath,
			"-i", audioPath,
			"-c:v", "copy",
			"-c:a", "aac",
			"-shortest",
			"-y",
			muxed,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("ffmpeg mux: %w\n%s", err, bytes.TrimSpace(out))
		}
		outPath = muxed
	}

	return os.ReadFile(outPath)
}

func (s *ffmpegSession) writeAudioWAV(path string) error {
	s.mu.Lock()
	chunks := s.audioChunks
	s.mu.Unlock()

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	frames := total / s.channels

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := wav.NewWriter(f, uint32(frames), uint16(s.channels), uint32(s.sampleRate), 16)
	samples := make([]wav.Sample, 0, frames)
	var pending []int16
	for _, chunk := range chunks {
		pending = append(pending, chunk...)
		for len(pending) >= s.channels {
			var sm wav.Sample
			sm.Values[0] = int(pending[0])
			if s.channels > 1 {
				sm.Values[1] = int(pending[1])
			}
			samples = append(samples, sm)
			pending = pending[s.channels:]
		}
	}
	return w.WriteSamples(samples)
}

func (s *ffmpegSession) Abort() {
	s.halt()
	s.stdin.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	os.RemoveAll(s.dir)
	s.mu.Lock()
	s.audioChunks = nil
	s.mu.Unlock()
}
