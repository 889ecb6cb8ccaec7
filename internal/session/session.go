// Package session drives the conversational wizard: it collects event
// details, audience and goals, runs the pipeline, and keeps the results and
// progress for polling.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/internal/pipeline"
)

// Journey is the wizard's position.
type Journey int

const (
	JourneyEventDetails Journey = iota
	JourneyAudience
	JourneyGoals
	JourneyProcessing
	JourneyResults
)

var journeyNames = [...]string{"event_details", "audience", "goals", "processing", "results"}

func (j Journey) String() string {
	if j < 0 || int(j) >= len(journeyNames) {
		return fmt.Sprintf("journey(%d)", int(j))
	}
	return journeyNames[j]
}

// Role identifies a message's author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message types used by the UI to pick a rendering.
const (
	TypeText             = "text"
	TypeGreeting         = "greeting"
	TypeQuestion         = "question"
	TypeProcessingStart  = "processing-start"
	TypeProcessingUpdate = "processing-update"
	TypeResultsSummary   = "results-summary"
	TypeResultsDetail    = "results-detail"
	TypeExportInfo       = "export-info"
	TypeContactInfo      = "contact-info"
	TypeFollowUp         = "follow-up"
	TypeNotice           = "notice"
	TypeError            = "error"
)

// Assistant replies.
const (
	msgGreeting        = "Hi there! I'll help you find the perfect speakers and sponsors for your event. Let's start by talking about your event details. What's the name and type of event you're planning?"
	msgAskAudience     = "Great! Now I'd like to understand your target audience better. Who will be attending your event? What industries are they from, and what's their level of expertise?"
	msgAskGoals        = "Thanks for sharing that information about your audience. Now, what are your main goals for this event? Are you looking for speakers, sponsors, or both? What topics or expertise are most important?"
	msgProcessingStart = "Perfect! I have all the information I need to find the ideal speakers and sponsors for your event. I'll start searching now. This will take just a moment..."
	msgStillSearching  = "I'm still searching for the best matches for your event. This should be done in just a moment..."
	msgMoreDetail      = "I'd be happy to provide more details! You can view comprehensive information about each lead in the 'Leads' tab. Would you like me to explain any specific aspect of the recommendations?"
	msgExport          = "You can export your results in several formats from the 'Export' tab. Would you like to export as Excel, CSV, or JSON?"
	msgContact         = "Each lead has a pre-written outreach message you can copy directly from their card. Just click the 'Copy Message' button and you'll have a personalized message ready to send!"
	msgFollowUp        = "Is there anything specific about the recommendations you'd like to know more about? Or would you like to start a new search for a different event?"
	msgStartFresh      = "Let's start fresh! Tell me about the new event you're planning. What's the name and type of event?"
	msgSampleNotice    = "Some of these results are sample data because part of the search was unavailable."
)

// ErrEmptyMessage is returned for a blank user message.
var ErrEmptyMessage = eris.New("session: empty message")

// Runner executes the pipeline. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, input model.Input, opts ...pipeline.RunOption) (*model.RunResult, error)
}

// Message is one line of the conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a point-in-time copy of a session for the API.
type Snapshot struct {
	ID           string              `json:"id"`
	Journey      Journey             `json:"journey"`
	JourneyName  string              `json:"journey_name"`
	Process      model.ProcessStatus `json:"process"`
	Leads        model.Leads         `json:"leads"`
	Messages     []Message           `json:"messages"`
	Input        model.Input         `json:"input"`
	RunID        string              `json:"run_id,omitempty"`
	UsedFallback bool                `json:"used_fallback"`
	Notices      []string            `json:"notices,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// Session is one user's wizard. It is safe for concurrent use.
type Session struct {
	ID string

	runner  Runner
	baseCtx context.Context
	tracker *pipeline.Tracker
	now     func() time.Time
	log     *zap.Logger

	mu         sync.Mutex
	journey    Journey
	input      model.Input
	messages   []Message
	result     *model.RunResult
	runErr     string
	lastActive time.Time
	generation int
	cancel     context.CancelFunc
	running    bool
	wg         sync.WaitGroup
}

func newSession(ctx context.Context, id string, runner Runner, seed model.Input, now func() time.Time) *Session {
	s := &Session{
		ID:         id,
		runner:     runner,
		baseCtx:    ctx,
		tracker:    pipeline.NewTracker(),
		now:        now,
		log:        zap.L().With(zap.String("session_id", id)),
		input:      seed,
		lastActive: now(),
	}
	s.say(msgGreeting, TypeGreeting)
	return s
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, leads := s.tracker.Snapshot()
	snap := Snapshot{
		ID:          s.ID,
		Journey:     s.journey,
		JourneyName: s.journey.String(),
		Process:     status,
		Leads:       leads,
		Messages:    append([]Message(nil), s.messages...),
		Input:       s.input,
		Error:       s.runErr,
	}
	if s.result != nil {
		snap.RunID = s.result.RunID
		snap.UsedFallback = s.result.UsedFallback
		snap.Notices = s.result.Notices
	}
	return snap
}

// Subscribe streams the session's progress. See pipeline.Tracker.Subscribe.
func (s *Session) Subscribe() (<-chan model.ProcessStatus, func()) {
	return s.tracker.Subscribe()
}

// HandleMessage records a user message, advances the journey, and returns the
// assistant's replies. Reaching the goals answer starts a pipeline run in the
// background.
func (s *Session) HandleMessage(text string) ([]Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActive = s.now()
	s.messages = append(s.messages, Message{Role: RoleUser, Content: text, Type: TypeText, CreatedAt: s.now()})
	before := len(s.messages)

	switch s.journey {
	case JourneyEventDetails:
		if s.input.Event.Name == "" {
			s.input.Event.Name = text
		}
		s.say(msgAskAudience, TypeQuestion)
		s.journey = JourneyAudience

	case JourneyAudience:
		if s.input.Audience.PrimaryDemographic == "" {
			s.input.Audience.PrimaryDemographic = demographicFrom(text)
		}
		s.say(msgAskGoals, TypeQuestion)
		s.journey = JourneyGoals

	case JourneyGoals:
		s.input.Goals.ParseIntent(text)
		s.say(msgProcessingStart, TypeProcessingStart)
		s.journey = JourneyProcessing
		s.startRun()

	case JourneyProcessing:
		s.say(msgStillSearching, TypeProcessingUpdate)

	case JourneyResults:
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "more") || strings.Contains(lower, "detail"):
			s.say(msgMoreDetail, TypeResultsDetail)
		case strings.Contains(lower, "export") || strings.Contains(lower, "download"):
			s.say(msgExport, TypeExportInfo)
		case strings.Contains(lower, "contact") || strings.Contains(lower, "message"):
			s.say(msgContact, TypeContactInfo)
		default:
			s.say(msgFollowUp, TypeFollowUp)
		}
	}

	return append([]Message(nil), s.messages[before:]...), nil
}

// Reset abandons any run in progress and returns the session to the start
// of the journey with idle status, no leads, and a fresh greeting. The
// collected input is kept so the next search can reuse it.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	s.running = false
	s.result = nil
	s.runErr = ""
	s.tracker.Reset()
	s.journey = JourneyEventDetails
	s.messages = nil
	s.lastActive = s.now()
	s.say(msgStartFresh, TypeGreeting)
}

// Wait blocks until every run this session started has returned.
func (s *Session) Wait() { s.wg.Wait() }

// Running reports whether a pipeline run is in progress.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
}

// startRun must be called with s.mu held.
func (s *Session) startRun() {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancel = cancel
	s.generation++
	gen := s.generation
	s.running = true
	s.runErr = ""
	s.result = nil
	s.tracker.Reset()
	input := s.input

	progress := func(ps model.ProcessStatus) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen == s.generation {
			s.tracker.Update(ps)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		result, err := s.runner.Run(ctx, input, pipeline.WithProgress(progress))
		s.finish(gen, result, err)
	}()
}

func (s *Session) finish(gen int, result *model.RunResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return
	}
	s.running = false
	s.cancel = nil
	s.lastActive = s.now()

	if err != nil {
		s.log.Warn("session: run failed", zap.Error(err))
		s.runErr = err.Error()
		s.result = result
		s.say(fmt.Sprintf("I couldn't finish the search: %v. Tell me your goals again and I'll retry.", err), TypeError)
		s.journey = JourneyGoals
		return
	}

	s.result = result
	s.tracker.SetLeads(result.Leads)
	s.say(fmt.Sprintf(
		"Great news! I've found some excellent matches for your event. I've identified %d potential speakers and %d potential sponsors that align well with your event goals and audience.",
		len(result.Leads.Speakers), len(result.Leads.Sponsors),
	), TypeResultsSummary)
	if result.UsedFallback {
		s.say(msgSampleNotice, TypeNotice)
	}
	s.journey = JourneyResults
}

// say must be called with s.mu held.
func (s *Session) say(content, typ string) {
	s.messages = append(s.messages, Message{Role: RoleAssistant, Content: content, Type: typ, CreatedAt: s.now()})
}

func demographicFrom(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "tech"):
		return "Technology Professionals"
	case strings.Contains(lower, "business"):
		return "Business Leaders and Decision Makers"
	default:
		return "Industry Professionals and Enthusiasts"
	}
}
