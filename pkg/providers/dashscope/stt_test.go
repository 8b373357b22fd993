package dashscope

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxa-ai/voxa/pkg/adapters/stt"
	"github.com/voxa-ai/voxa/pkg/errorsx"
	"github.com/voxa-ai/voxa/pkg/frames"
)

// sttScript drives a fake recognition endpoint for one connection.
type sttScript struct {
	// ignoreRunTask leaves the handshake unanswered.
	ignoreRunTask bool
	// failTask answers run-task with task-failed instead of task-started.
	failTask bool
	// dropAfterStart closes the socket right after task-started.
	dropAfterStart bool
	// framesBeforeResult is how many binary frames trigger the sentences.
	framesBeforeResult int
	sentences          []sentence

	runTask chan envelope
	auth    chan string
}

func newSTTScript() *sttScript {
	return &sttScript{
		runTask: make(chan envelope, 1),
		auth:    make(chan string, 1),
	}
}

func (sc *sttScript) serve(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc.auth <- r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		reply := func(env envelope) {
			if err := c.WriteJSON(env); err != nil {
				t.Logf("server write: %v", err)
			}
		}

		binary := 0
		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				binary++
				if binary == sc.framesBeforeResult {
					for _, sen := range sc.sentences {
						sen := sen
						reply(envelope{
							Header:  header{Event: eventResultGenerated},
							Payload: payload{Output: &taskOutput{Sentence: &sen}},
						})
					}
				}
				continue
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Errorf("server: bad client message: %v", err)
				return
			}
			switch env.Header.Action {
			case actionRunTask:
				select {
				case sc.runTask <- env:
				default:
				}
				if sc.ignoreRunTask {
					continue
				}
				if sc.failTask {
					reply(envelope{Header: header{
						Event:        eventTaskFailed,
						ErrorCode:    "InvalidParameter",
						ErrorMessage: "bad model",
					}})
					return
				}
				reply(envelope{Header: header{Event: eventTaskStarted, TaskID: env.Header.TaskID}})
				if sc.dropAfterStart {
					time.Sleep(20 * time.Millisecond)
					return
				}
			case actionFinishTask:
				reply(envelope{Header: header{Event: eventTaskFinished, TaskID: env.Header.TaskID}})
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func audioFrame(seq int64) frames.AudioFrame {
	return frames.NewAudioFrame("stream-1", seq, make([]byte, 640), 16000, 1)
}

func nextEvent(t *testing.T, ch <-chan stt.Event) (stt.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return stt.Event{}, false
	}
}

func TestStartHandshake(t *testing.T) {
	script := newSTTScript()
	srv := script.serve(t)
	defer srv.Close()

	s := NewSTT(STTConfig{
		APIKey:   "sk-test",
		BaseURL:  wsURL(srv),
		StreamID: "stream-1",
		Language: "en",
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	if got := s.State(); got != stt.StateOpen {
		t.Fatalf("state = %v, want OPEN", got)
	}
	if auth := <-script.auth; auth != "Bearer sk-test" {
		t.Errorf("authorization = %q", auth)
	}
	run := <-script.runTask
	if run.Header.Streaming != streamingDuplex {
		t.Errorf("streaming = %q, want duplex", run.Header.Streaming)
	}
	if run.Payload.Model != "paraformer-realtime-v2" {
		t.Errorf("model = %q", run.Payload.Model)
	}
	p := run.Payload.Parameters
	if p == nil || p.Format != "pcm" || p.SampleRate != 16000 {
		t.Errorf("parameters = %+v", p)
	}
	if len(p.LanguageHints) != 1 || p.LanguageHints[0] != "en" {
		t.Errorf("language hints = %v", p.LanguageHints)
	}
}

func TestStartTimesOutWithoutTaskStarted(t *testing.T) {
	script := newSTTScript()
	script.ignoreRunTask = true
	srv := script.serve(t)
	defer srv.Close()

	s := NewSTT(STTConfig{
		APIKey:         "sk-test",
		BaseURL:        wsURL(srv),
		ConnectTimeout: 200 * time.Millisecond,
	})
	err := s.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded without task-started")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSTTConnect) {
		t.Fatalf("reason = %v, want stt_connect", errorsx.Reason(err))
	}
	if got := s.State(); got != stt.StateClosed {
		t.Fatalf("state = %v, want CLOSED", got)
	}
}

func TestStartFailsOnTaskFailed(t *testing.T) {
	script := newSTTScript()
	script.failTask = true
	srv := script.serve(t)
	defer srv.Close()

	s := NewSTT(STTConfig{APIKey: "sk-test", BaseURL: wsURL(srv)})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded after task-failed")
	}
}

func TestFinalTranscriptDelivery(t *testing.T) {
	script := newSTTScript()
	script.framesBeforeResult = 2
	script.sentences = []sentence{
		{Text: "", Heartbeat: true},
		{Text: "hello", SentenceEnd: false},
		{Text: "hello there", SentenceEnd: true},
	}
	srv := script.serve(t)
	defer srv.Close()

	s := NewSTT(STTConfig{APIKey: "sk-test", BaseURL: wsURL(srv), StreamID: "stream-1"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	for i := int64(0); i < 2; i++ {
		if err := s.SendAudio(audioFrame(i)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	// Heartbeats and interims are filtered when interim delivery is off.
	ev, ok := nextEvent(t, s.Results())
	if !ok {
		t.Fatal("results closed early")
	}
	if ev.Err != nil {
		t.Fatalf("event error: %v", ev.Err)
	}
	tr := ev.Transcript
	if !tr.Final() || tr.Text() != "hello there" {
		t.Fatalf("transcript = %q final=%v", tr.Text(), tr.Final())
	}
	if tr.UtteranceID() == "" {
		t.Fatal("empty utterance id")
	}
	if tr.StreamID() != "stream-1" {
		t.Errorf("stream id = %q", tr.StreamID())
	}
}

func TestInterimTranscriptsShareUtteranceID(t *testing.T) {
	script := newSTTScript()
	script.framesBeforeResult = 1
	script.sentences = []sentence{
		{Text: "hello", SentenceEnd: false},
		{Text: "hello there", SentenceEnd: true},
	}
	srv := script.serve(t)
	defer srv.Close()

	s := NewSTT(STTConfig{APIKey: "sk-test", BaseURL: wsURL(srv), Interim: true})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	if err := s.SendAudio(audioFrame(0)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	interim, _ := nextEvent(t, s.Results())
	final, _ := nextEvent(t, s.Results())
	if interim.Transcript.Final() {
		t.Fatal("first event already final")
	}
	if !final.Transcript.Final() {
		t.Fatal("second event not final")
	}
	if interim.Transcript.UtteranceID() != final.Transcript.UtteranceID() {
		t.Fatal("interim and final have different utterance ids")
	}
}

func TestCloseFollowsFinishTaskHandshake(t *testing.T) {
	script := newSTTScript()
	srv := script.serve(t)
	defer srv.Close()

	s := NewSTT(STTConfig{APIKey: "sk-test", BaseURL: wsURL(srv)})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := s.State(); got != stt.StateClosed {
		t.Fatalf("state = %v, want CLOSED", got)
	}
	// Results drains and closes without an error event.
	for {
		ev, ok := <-s.Results()
		if !ok {
			break
		}
		if ev.Err != nil {
			t.Fatalf("unexpected error event on clean close: %v", ev.Err)
		}
	}
	// Close again is a no-op.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	script := newSTTScript()
	srv := script.serve(t)
	defer srv.Close()

	s := NewSTT(STTConfig{APIKey: "sk-test", BaseURL: wsURL(srv)})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = s.Close()

	err := s.SendAudio(audioFrame(0))
	if !errorsx.HasReason(err, errorsx.ReasonSTTClosed) {
		t.Fatalf("reason = %v, want stt_closed", errorsx.Reason(err))
	}
}

func TestTransportLossEmitsInterruptedEvent(t *testing.T) {
	script := newSTTScript()
	script.dropAfterStart = true
	srv := script.serve(t)
	defer srv.Close()

	s := NewSTT(STTConfig{APIKey: "sk-test", BaseURL: wsURL(srv)})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	ev, ok := nextEvent(t, s.Results())
	if !ok {
		t.Fatal("results closed without interrupt event")
	}
	if !errorsx.HasReason(ev.Err, errorsx.ReasonSTTInterrupted) {
		t.Fatalf("reason = %v, want stt_interrupted", errorsx.Reason(ev.Err))
	}
	if _, open := <-s.Results(); open {
		t.Fatal("results still open after interrupt")
	}
	if got := s.State(); got != stt.StateClosed {
		t.Fatalf("state = %v, want CLOSED", got)
	}
}

func TestTransportLossReleasesConnection(t *testing.T) {
	script := newSTTScript()
	script.dropAfterStart = true
	srv := script.serve(t)
	defer srv.Close()

	s := NewSTT(STTConfig{APIKey: "sk-test", BaseURL: wsURL(srv)})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	if ev, ok := nextEvent(t, s.Results()); !ok || ev.Err == nil {
		t.Fatal("expected interrupt event before release")
	}

	// The interrupted channel must tear its loops down on its own; nothing
	// else holds a reference to cancel them.
	deadline := time.Now().Add(2 * time.Second)
	for s.ctx.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("write loop still running after interruption")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.SendAudio(audioFrame(1)); !errorsx.HasReason(err, errorsx.ReasonSTTClosed) {
		t.Fatalf("send after interruption: %v, want stt_closed", err)
	}
}
