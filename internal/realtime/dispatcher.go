package realtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"live-polling/internal/domain/poll"
	"live-polling/internal/domain/vote"
	"live-polling/internal/platform/apperr"
	"live-polling/internal/session"
)

const (
	defaultStoreTimeout = 5 * time.Second
	maxChatRunes        = 500
	anonymousName       = "Anonymous"
)

type PollLifecycle interface {
	CreateAndStart(ctx context.Context, in poll.CreateInput) (*poll.Poll, error)
	GetState(ctx context.Context) (poll.State, error)
}

type VoteAdmission interface {
	Submit(ctx context.Context, pollID, studentID, optionID string) (*poll.Poll, error)
	HasVoted(ctx context.Context, pollID, studentID string) (bool, error)
}

// TokenVerifier gates the teacher role. When it is not enabled anyone may
// join as a teacher.
type TokenVerifier interface {
	Enabled() bool
	VerifyTeacher(token string) error
}

type Metrics interface {
	InboundEvent(event string)
	SetParticipants(role string, n int)
}

// Dispatcher routes inbound events to the lifecycle manager, the vote
// admission controller and the registry, and turns results into deliveries.
type Dispatcher struct {
	hub      *Hub
	registry *session.Registry
	polls    PollLifecycle
	votes    VoteAdmission
	auth     TokenVerifier
	metrics  Metrics
	log      *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewDispatcher(hub *Hub, registry *session.Registry, polls PollLifecycle, votes VoteAdmission, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		hub:      hub,
		registry: registry,
		polls:    polls,
		votes:    votes,
		log:      log,
		timeout:  defaultStoreTimeout,
		now:      time.Now,
	}
}

func (d *Dispatcher) SetAuth(v TokenVerifier) { d.auth = v }

func (d *Dispatcher) SetMetrics(m Metrics) { d.metrics = m }

func (d *Dispatcher) SetTimeout(t time.Duration) {
	if t > 0 {
		d.timeout = t
	}
}

func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Handle processes one inbound frame from c. It never panics.
func (d *Dispatcher) Handle(ctx context.Context, c *Client, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic while handling event", "conn_id", c.id, "panic", r)
			d.sendError(c, "internal error")
		}
	}()

	if !c.allow() {
		d.sendError(c, msgRateLimited)
		return
	}

	msg, err := c.codec.Decode(data)
	if err != nil {
		d.sendError(c, msgInvalid)
		return
	}
	if d.metrics != nil {
		d.metrics.InboundEvent(msg.Event)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	switch msg.Event {
	case EventJoin:
		d.join(ctx, c, msg)
	case EventPollCreate:
		d.createPoll(ctx, c, msg)
	case EventVoteSubmit:
		d.submitVote(ctx, c, msg)
	case EventStudentKick:
		d.kick(c, msg)
	case EventChatMessage:
		d.chat(c, msg)
	default:
		d.sendError(c, msgUnknownEvent)
	}
}

// Disconnect drops c from the hub and the registry.
func (d *Dispatcher) Disconnect(c *Client) {
	d.hub.unregister(c)
	if p, ok := d.registry.Leave(c.id); ok {
		d.log.Debug("participant left", "conn_id", c.id, "student_id", p.StudentID, "role", p.Role)
		d.participantsChanged()
	}
}

func (d *Dispatcher) join(ctx context.Context, c *Client, msg Message) {
	// a kicked or closing connection can still have frames in flight
	if c.finished() {
		return
	}

	var req JoinRequest
	if err := msg.Bind(&req); err != nil {
		d.sendError(c, msgInvalid)
		return
	}

	req.StudentID = strings.TrimSpace(req.StudentID)
	if req.StudentID == "" {
		d.sendError(c, "studentId is required")
		return
	}
	role, err := session.ParseRole(req.Role)
	if err != nil {
		d.sendError(c, err.Error())
		return
	}
	if role == session.RoleTeacher && d.auth != nil && d.auth.Enabled() {
		if err := d.auth.VerifyTeacher(req.Token); err != nil {
			d.log.Warn("teacher join refused", "conn_id", c.id, "error", err)
			d.sendError(c, msgUnauthorized)
			return
		}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" && role == session.RoleStudent {
		name = anonymousName
	}

	d.registry.Join(session.Participant{
		ConnID:    c.id,
		StudentID: req.StudentID,
		Name:      name,
		Role:      role,
	})
	if c.finished() {
		// kicked while joining
		d.registry.Leave(c.id)
		return
	}
	d.log.Info("participant joined", "conn_id", c.id, "student_id", req.StudentID, "role", role)

	d.sendState(ctx, c, req.StudentID, role)
	d.participantsChanged()
}

// sendState gives a joining client the current poll so it can resync after
// a reconnect.
func (d *Dispatcher) sendState(ctx context.Context, c *Client, studentID string, role session.Role) {
	state, err := d.polls.GetState(ctx)
	if err != nil {
		d.log.Error("could not load poll state", "conn_id", c.id, "error", err)
		d.sendError(c, apperr.FromError(err).Message)
		return
	}

	payload := PollStatePayload{Poll: state.Poll, TimeRemaining: state.TimeRemaining}
	if state.Poll != nil && role == session.RoleStudent {
		voted, err := d.votes.HasVoted(ctx, state.Poll.ID, studentID)
		if err != nil {
			d.log.Error("could not check vote", "conn_id", c.id, "poll_id", state.Poll.ID, "error", err)
		}
		payload.HasVoted = voted
	}
	d.hub.ToConnection(c.id, EventPollState, payload)
}

func (d *Dispatcher) createPoll(ctx context.Context, c *Client, msg Message) {
	if _, ok := d.requireTeacher(c); !ok {
		return
	}

	var in poll.CreateInput
	if err := msg.Bind(&in); err != nil {
		d.sendError(c, msgInvalid)
		return
	}

	p, err := d.polls.CreateAndStart(ctx, in)
	if err != nil {
		if text, ok := rejection(err); ok {
			d.sendError(c, text)
			return
		}
		d.log.Error("could not create poll", "conn_id", c.id, "error", err)
		d.sendError(c, failureMessage(err, "Failed to create poll"))
		return
	}

	d.hub.Broadcast(EventPollStarted, PollStartedPayload{Poll: p, TimeRemaining: p.Remaining(d.now())})
}

func (d *Dispatcher) submitVote(ctx context.Context, c *Client, msg Message) {
	participant, ok := d.registry.Get(c.id)
	if !ok {
		d.sendError(c, msgNotRegistered)
		return
	}

	var req VoteRequest
	if err := msg.Bind(&req); err != nil {
		d.sendError(c, msgInvalid)
		return
	}

	p, err := d.votes.Submit(ctx, req.PollID, participant.StudentID, req.OptionID)
	if err != nil {
		if text, ok := rejection(err); ok {
			d.hub.ToConnection(c.id, EventVoteRejected, MessagePayload{Message: text})
			return
		}
		d.log.Error("could not submit vote", "conn_id", c.id, "poll_id", req.PollID, "error", err)
		d.sendError(c, failureMessage(err, "Failed to submit vote"))
		return
	}

	d.hub.ToConnection(c.id, EventVoteAccepted, PollPayload{Poll: p})
	d.hub.Broadcast(EventPollUpdated, PollPayload{Poll: p})
}

func (d *Dispatcher) kick(c *Client, msg Message) {
	teacher, ok := d.requireTeacher(c)
	if !ok {
		return
	}

	var req KickRequest
	if err := msg.Bind(&req); err != nil {
		d.sendError(c, msgInvalid)
		return
	}

	ids := d.registry.Kick(req.StudentID)
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		d.hub.ToConnection(id, EventKicked, MessagePayload{Message: msgKicked})
		d.hub.Disconnect(id)
		// drops an entry re-added by a join racing the kick
		d.registry.Leave(id)
	}
	d.log.Info("student kicked", "student_id", req.StudentID, "by", teacher.StudentID, "connections", len(ids))
	d.participantsChanged()
}

// chat relays a message to everyone. Unregistered senders are ignored.
func (d *Dispatcher) chat(c *Client, msg Message) {
	participant, ok := d.registry.Get(c.id)
	if !ok {
		return
	}

	var req ChatRequest
	if err := msg.Bind(&req); err != nil {
		d.sendError(c, msgInvalid)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return
	}
	if utf8.RuneCountInString(text) > maxChatRunes {
		d.sendError(c, "message too long")
		return
	}

	d.hub.Broadcast(EventChatMessage, ChatPayload{
		SenderID:   participant.StudentID,
		SenderName: participant.Name,
		Role:       participant.Role,
		Text:       text,
		Timestamp:  d.now().UTC(),
	})
}

func (d *Dispatcher) requireTeacher(c *Client) (session.Participant, bool) {
	p, ok := d.registry.Get(c.id)
	if !ok || p.Role != session.RoleTeacher {
		d.sendError(c, msgUnauthorized)
		return session.Participant{}, false
	}
	return p, true
}

func (d *Dispatcher) participantsChanged() {
	d.hub.ToTeachers(EventParticipants, studentsPayload(d.registry.Students()))
	if d.metrics != nil {
		d.metrics.SetParticipants(string(session.RoleStudent), d.registry.Count(session.RoleStudent))
		d.metrics.SetParticipants(string(session.RoleTeacher), d.registry.Count(session.RoleTeacher))
	}
}

func (d *Dispatcher) sendError(c *Client, text string) {
	d.hub.ToConnection(c.id, EventError, MessagePayload{Message: text})
}

var rejections = []error{
	poll.ErrPollNotFound,
	poll.ErrPollNotActive,
	poll.ErrPollExpired,
	poll.ErrInvalidOption,
	vote.ErrAlreadyVoted,
}

// rejection returns the user-facing text for expected refusals: bad input
// and state conflicts. Anything else is a failure.
func rejection(err error) (string, bool) {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return target.Error(), true
		}
	}
	if errors.Is(err, poll.ErrValidation) {
		return strings.TrimPrefix(err.Error(), poll.ErrValidation.Error()+": "), true
	}
	return "", false
}

func failureMessage(err error, fallback string) string {
	if errors.Is(err, apperr.ErrStorageUnavailable) {
		return apperr.FromError(err).Message
	}
	return fallback
}
