package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/goldenfocus/vibelog-capture/providers"
	"github.com/goldenfocus/vibelog-capture/ttscache"
)

// StageID names a processing pipeline stage.
type StageID string

const (
	// StageCapture marks the finished recording entering the pipeline.
	StageCapture    StageID = "capture"
	StageTranscribe StageID = "transcribe"
	StageGenerate   StageID = "generate"
	StageRefine     StageID = "refine"
	StageStructure  StageID = "structure"
	StageFormat     StageID = "format"
	StagePolish     StageID = "polish"
	StageCover      StageID = "cover"
	StageVoice      StageID = "voice"
	StageUpload     StageID = "upload"
	StageReady      StageID = "ready"
)

// cosmeticStages pace the UI between content generation and final
// assembly; they perform no work of their own. The cover illustration
// renders concurrently underneath them.
var cosmeticStages = []StageID{StageRefine, StageStructure, StageFormat, StagePolish}

type coverResult struct {
	image providers.CoverImage
	err   error
}

// enterStage records and announces a stage. Returns false when the
// session generation is stale, which aborts the pipeline quietly.
func (m *Machine) enterStage(gen uint64, sess *Session, id StageID) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	sess.Stages = append(sess.Stages, id)
	m.mu.Unlock()
	m.emit(Event{Kind: EventStage, Stage: id})
	return true
}

// dwell sleeps for the configured cosmetic pacing, interruptibly.
func (m *Machine) dwell(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.cfg.StageDwell):
	}
}

// failRequired moves the session to the error state. Transcription and
// content generation are the stages that can land here; losing either
// loses the user's words, so the pipeline aborts.
func (m *Machine) failRequired(gen uint64, sess *Session, id StageID, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	sess.Err = fmt.Errorf("%s: %w", id, err)
	if q, ok := providers.AsQuota(err); ok {
		sess.Gate = q
	}
	m.state = StateError
	m.mu.Unlock()
	m.log.Printf("required stage %s failed: %v", id, err)
	m.emit(Event{Kind: EventState, State: StateError})
}

// noteOptional logs an optional stage failure and records any quota
// gate without aborting. The final content simply lacks that
// enhancement.
func (m *Machine) noteOptional(gen uint64, sess *Session, id StageID, err error) {
	m.log.Printf("optional stage %s failed, continuing: %v", id, err)
	if q, ok := providers.AsQuota(err); ok {
		m.commit(gen, func() { sess.Gate = q })
	}
}

// commit applies fn under the lock only if gen is still current.
func (m *Machine) commit(gen uint64, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	fn()
	return true
}

// process drives the post-recording pipeline. Ordering is strict where
// data flows: transcription completes before content generation
// starts, and the cover illustration starts only once generated
// content exists. Everything checks the generation counter before
// touching the session so a Reset abandons the run cleanly.
func (m *Machine) process(ctx context.Context, gen uint64, sess *Session) {
	if !m.enterStage(gen, sess, StageCapture) {
		return
	}
	if !m.enterStage(gen, sess, StageTranscribe) {
		return
	}
	transcription, err := m.cfg.Transcriber.Transcribe(ctx, sess.Blob, sess.MimeType)
	if err != nil {
		m.failRequired(gen, sess, StageTranscribe, err)
		return
	}
	if !m.commit(gen, func() { sess.Transcription = transcription }) {
		return
	}

	if !m.enterStage(gen, sess, StageGenerate) {
		return
	}
	content, err := m.cfg.Generator.Generate(ctx, transcription)
	if err != nil {
		m.failRequired(gen, sess, StageGenerate, err)
		return
	}
	if !m.commit(gen, func() { sess.Content = content }) {
		return
	}

	// The illustration needs the generated text but nothing downstream
	// blocks on it until final assembly, so it renders while the
	// cosmetic stages pace the UI.
	var coverCh chan coverResult
	if m.cfg.Cover != nil {
		if !m.enterStage(gen, sess, StageCover) {
			return
		}
		coverCh = make(chan coverResult, 1)
		go func(text string) {
			img, err := m.cfg.Cover.Illustrate(ctx, text)
			coverCh <- coverResult{image: img, err: err}
		}(content.Content)
	}

	for _, id := range cosmeticStages {
		if !m.enterStage(gen, sess, id) {
			return
		}
		m.dwell(ctx)
	}

	if m.cfg.Voice != nil {
		if !m.enterStage(gen, sess, StageVoice) {
			return
		}
		m.synthesizeVoice(ctx, gen, sess, content.Content)
	}

	if sess.Mode == ModeVideo && m.cfg.Uploads != nil {
		if !m.enterStage(gen, sess, StageUpload) {
			return
		}
		url, err := m.cfg.Uploads.Upload(ctx, sess.ID, sess.Blob, sess.MimeType, nil)
		if err != nil {
			m.noteOptional(gen, sess, StageUpload, err)
		} else if !m.commit(gen, func() { sess.UploadURL = url }) {
			return
		}
	}

	if coverCh != nil {
		select {
		case <-ctx.Done():
			return
		case res := <-coverCh:
			if res.err != nil {
				m.noteOptional(gen, sess, StageCover, res.err)
			} else {
				img := res.image
				if !m.commit(gen, func() { sess.Cover = &img }) {
					return
				}
			}
		}
	}

	if !m.enterStage(gen, sess, StageReady) {
		return
	}
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.state = StateComplete
	m.processCancel = nil
	m.mu.Unlock()
	m.log.Printf("session %s complete", sess.ID)
	m.emit(Event{Kind: EventState, State: StateComplete})
}

// synthesizeVoice runs the optional narration stage through the cache.
// Cloning synthesizers need a sample of the author's voice; with no
// configured sample the session's own recording serves, since the
// author just spoke it.
func (m *Machine) synthesizeVoice(ctx context.Context, gen uint64, sess *Session, text string) {
	key := ttscache.Key(text, m.cfg.VoiceName, sess.ID)
	if m.cfg.TTSCache != nil {
		if blob, ok := m.cfg.TTSCache.Get(key); ok {
			m.commit(gen, func() { sess.Voiceover = blob })
			return
		}
	}
	sample := m.cfg.VoiceSample
	if len(sample) == 0 {
		sample = sess.Blob
	}
	blob, err := m.cfg.Voice.Synthesize(ctx, providers.SpeechRequest{
		Text:        text,
		Voice:       m.cfg.VoiceName,
		VoiceSample: sample,
	})
	if err != nil {
		m.noteOptional(gen, sess, StageVoice, err)
		return
	}
	if m.cfg.TTSCache != nil {
		m.cfg.TTSCache.Put(key, blob)
	}
	m.commit(gen, func() { sess.Voiceover = blob })
}
