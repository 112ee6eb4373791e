package native

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stub is an in-process Module with scripted behavior. The zero value accepts
// every load and answers with an empty reply.
type Stub struct {
	// FailLoad makes Load report failure.
	FailLoad bool
	// LoadDelay is slept inside Load.
	LoadDelay time.Duration
	// Tokens are emitted in order by Chat. When nil, the question is echoed
	// back word by word.
	Tokens []string
	// Reply overrides the value Chat returns. When empty, Chat returns the
	// concatenated tokens.
	Reply string
	// TokenDelay is slept before each token.
	TokenDelay time.Duration
	// RejectUnloaded makes Chat return an empty reply without tokens until a
	// load succeeded.
	RejectUnloaded bool

	mu          sync.Mutex
	loaded      bool
	path        string
	interrupted chan struct{}

	loads      atomic.Int32
	chats      atomic.Int32
	releases   atomic.Int32
	interrupts atomic.Int32
}

func (s *Stub) Load(path string) bool {
	s.loads.Add(1)
	if s.LoadDelay > 0 {
		time.Sleep(s.LoadDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLoad {
		s.loaded = false
		s.path = ""
		return false
	}
	s.loaded = true
	s.path = path
	return true
}

func (s *Stub) LoadAsync(path string, done func(ok bool)) {
	go func() {
		ok := s.Load(path)
		if done != nil {
			done(ok)
		}
	}()
}

func (s *Stub) Chat(question string, onToken func(token string)) string {
	s.chats.Add(1)

	s.mu.Lock()
	if s.RejectUnloaded && !s.loaded {
		s.mu.Unlock()
		return ""
	}
	stop := make(chan struct{})
	s.interrupted = stop
	s.mu.Unlock()

	tokens := s.Tokens
	if tokens == nil {
		tokens = echoTokens(question)
	}

	var sb strings.Builder
	for _, tok := range tokens {
		if s.TokenDelay > 0 {
			select {
			case <-stop:
				return sb.String()
			case <-time.After(s.TokenDelay):
			}
		} else {
			select {
			case <-stop:
				return sb.String()
			default:
			}
		}
		sb.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
	}
	if s.Reply != "" {
		return s.Reply
	}
	return sb.String()
}

func (s *Stub) ChatAsync(question string, done func(reply string)) {
	go func() {
		reply := s.Chat(question, nil)
		if done != nil {
			done(reply)
		}
	}()
}

// Interrupt aborts the generation currently running in Chat, if any.
func (s *Stub) Interrupt() {
	s.interrupts.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interrupted != nil {
		close(s.interrupted)
		s.interrupted = nil
	}
}

func (s *Stub) Release() error {
	s.releases.Add(1)
	s.mu.Lock()
	s.loaded = false
	s.path = ""
	s.mu.Unlock()
	return nil
}

// Loaded reports whether the last load succeeded and was not released.
func (s *Stub) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *Stub) LoadCalls() int      { return int(s.loads.Load()) }
func (s *Stub) ChatCalls() int      { return int(s.chats.Load()) }
func (s *Stub) ReleaseCalls() int   { return int(s.releases.Load()) }
func (s *Stub) InterruptCalls() int { return int(s.interrupts.Load()) }

func echoTokens(question string) []string {
	fields := strings.Fields(question)
	out := make([]string, 0, len(fields))
	for i, f := range fields {
		if i > 0 {
			f = " " + f
		}
		out = append(out, f)
	}
	return out
}
