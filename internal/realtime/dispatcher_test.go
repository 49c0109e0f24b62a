package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"live-polling/internal/domain/poll"
	"live-polling/internal/domain/vote"
	"live-polling/internal/repository/memory"
	"live-polling/internal/session"
)

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (r received) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v))
}

type staticVerifier struct {
	enabled bool
	token   string
}

func (v staticVerifier) Enabled() bool { return v.enabled }

func (v staticVerifier) VerifyTeacher(token string) error {
	if token != v.token {
		return errors.New("bad token")
	}
	return nil
}

type harness struct {
	hub      *Hub
	registry *session.Registry
	d        *Dispatcher
	polls    *poll.Service
	votes    *vote.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	registry := session.NewRegistry()
	hub := NewHub(registry, nil)

	polls := poll.NewService(store, nil)
	polls.SetNotifier(hub)
	t.Cleanup(polls.Close)
	votes := vote.NewService(store, polls, nil)

	return &harness{
		hub:      hub,
		registry: registry,
		d:        NewDispatcher(hub, registry, polls, votes, nil),
		polls:    polls,
		votes:    votes,
	}
}

func (h *harness) connect(t *testing.T, id string) *Client {
	t.Helper()
	c := newClient(id, jsonCodec{}, nil, nil)
	require.NoError(t, h.hub.register(c))
	return c
}

func (h *harness) send(t *testing.T, c *Client, event string, data any) {
	t.Helper()
	b, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	h.d.Handle(context.Background(), c, b)
}

func (h *harness) join(t *testing.T, c *Client, studentID, role string) {
	t.Helper()
	h.send(t, c, EventJoin, JoinRequest{StudentID: studentID, Name: gofakeit.Name(), Role: role})
}

func (h *harness) createPoll(t *testing.T, teacher *Client) *poll.Poll {
	t.Helper()
	h.send(t, teacher, EventPollCreate, poll.CreateInput{
		Question:  "Capital of France?",
		Options:   []poll.OptionInput{{Text: "Paris", IsCorrect: true}, {Text: "Lyon"}},
		TimeLimit: 60,
	})
	p, err := h.polls.GetActive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

// drain returns every queued frame and whether the queue was closed.
func drain(t *testing.T, c *Client) ([]received, bool) {
	t.Helper()
	var msgs []received
	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return msgs, true
			}
			var r received
			require.NoError(t, json.Unmarshal(f.data, &r))
			msgs = append(msgs, r)
		default:
			return msgs, false
		}
	}
}

func only(msgs []received, event string) []received {
	var res []received
	for _, m := range msgs {
		if m.Event == event {
			res = append(res, m)
		}
	}
	return res
}

func TestJoinSendsStateAndParticipants(t *testing.T) {
	h := newHarness(t)
	teacher := h.connect(t, "t-conn")
	h.join(t, teacher, "t1", "teacher")
	drain(t, teacher)

	st := h.connect(t, "s-conn")
	h.send(t, st, EventJoin, JoinRequest{StudentID: "s1", Role: "student"})

	msgs, _ := drain(t, st)
	require.Len(t, only(msgs, EventPollState), 1)
	var state PollStatePayload
	only(msgs, EventPollState)[0].decode(t, &state)
	assert.Nil(t, state.Poll)
	assert.Nil(t, state.TimeRemaining)
	assert.False(t, state.HasVoted)
	assert.Empty(t, only(msgs, EventParticipants), "students do not get the participant list")

	tmsgs, _ := drain(t, teacher)
	require.Len(t, only(tmsgs, EventParticipants), 1)
	var parts ParticipantsPayload
	only(tmsgs, EventParticipants)[0].decode(t, &parts)
	require.Len(t, parts.Students, 1)
	assert.Equal(t, "s1", parts.Students[0].StudentID)
	assert.Equal(t, anonymousName, parts.Students[0].Name)
}

func TestJoinValidation(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, "c1")

	h.send(t, c, EventJoin, JoinRequest{StudentID: "", Role: "student"})
	h.send(t, c, EventJoin, JoinRequest{StudentID: "s1", Role: "admin"})

	msgs, _ := drain(t, c)
	require.Len(t, only(msgs, EventError), 2)
	assert.Equal(t, 0, h.registry.Count(session.RoleStudent))
}

func TestTeacherJoinRequiresToken(t *testing.T) {
	h := newHarness(t)
	h.d.SetAuth(staticVerifier{enabled: true, token: "secret"})

	c := h.connect(t, "c1")
	h.send(t, c, EventJoin, JoinRequest{StudentID: "t1", Role: "teacher", Token: "wrong"})
	msgs, _ := drain(t, c)
	require.Len(t, only(msgs, EventError), 1)
	var m MessagePayload
	only(msgs, EventError)[0].decode(t, &m)
	assert.Equal(t, msgUnauthorized, m.Message)
	assert.Equal(t, 0, h.registry.Count(session.RoleTeacher))

	h.send(t, c, EventJoin, JoinRequest{StudentID: "t1", Role: "teacher", Token: "secret"})
	assert.Equal(t, 1, h.registry.Count(session.RoleTeacher))
}

func TestEventsBeforeJoin(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, "c1")

	h.send(t, c, EventVoteSubmit, VoteRequest{PollID: "p", OptionID: "o"})
	h.send(t, c, EventChatMessage, ChatRequest{Text: "hello"})
	h.send(t, c, EventPollCreate, poll.CreateInput{})

	msgs, _ := drain(t, c)
	require.Len(t, msgs, 2, "chat before join is ignored")
	var m MessagePayload
	msgs[0].decode(t, &m)
	assert.Equal(t, msgNotRegistered, m.Message)
	msgs[1].decode(t, &m)
	assert.Equal(t, msgUnauthorized, m.Message)
}

func TestStudentCannotCreateOrKick(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, "c1")
	h.join(t, c, "s1", "student")
	drain(t, c)

	h.send(t, c, EventPollCreate, poll.CreateInput{Question: "q", Options: []poll.OptionInput{{Text: "a"}, {Text: "b"}}, TimeLimit: 10})
	h.send(t, c, EventStudentKick, KickRequest{StudentID: "s2"})

	msgs, _ := drain(t, c)
	require.Len(t, only(msgs, EventError), 2)
	p, err := h.polls.GetActive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCreatePollBroadcastsStarted(t *testing.T) {
	h := newHarness(t)
	teacher := h.connect(t, "t-conn")
	h.join(t, teacher, "t1", "teacher")
	st := h.connect(t, "s-conn")
	h.join(t, st, "s1", "student")
	drain(t, teacher)
	drain(t, st)

	p := h.createPoll(t, teacher)

	for _, c := range []*Client{teacher, st} {
		msgs, _ := drain(t, c)
		started := only(msgs, EventPollStarted)
		require.Len(t, started, 1)
		var payload PollStartedPayload
		started[0].decode(t, &payload)
		assert.Equal(t, p.ID, payload.Poll.ID)
		assert.Equal(t, 60, payload.TimeRemaining)
	}
}

func TestCreatePollValidationError(t *testing.T) {
	h := newHarness(t)
	teacher := h.connect(t, "t-conn")
	h.join(t, teacher, "t1", "teacher")
	drain(t, teacher)

	h.send(t, teacher, EventPollCreate, poll.CreateInput{Question: "q", Options: []poll.OptionInput{{Text: "only"}}, TimeLimit: 10})

	msgs, _ := drain(t, teacher)
	require.Len(t, only(msgs, EventError), 1)
	var m MessagePayload
	only(msgs, EventError)[0].decode(t, &m)
	assert.Contains(t, m.Message, "at least 2 options")
	assert.Empty(t, only(msgs, EventPollStarted))
}

func TestVoteFlow(t *testing.T) {
	h := newHarness(t)
	teacher := h.connect(t, "t-conn")
	h.join(t, teacher, "t1", "teacher")
	voter := h.connect(t, "s-conn")
	h.join(t, voter, "s1", "student")
	p := h.createPoll(t, teacher)
	drain(t, teacher)
	drain(t, voter)

	h.send(t, voter, EventVoteSubmit, VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID})

	vmsgs, _ := drain(t, voter)
	require.Len(t, only(vmsgs, EventVoteAccepted), 1)
	require.Len(t, only(vmsgs, EventPollUpdated), 1)
	assert.Equal(t, EventVoteAccepted, vmsgs[0].Event, "the voter hears about its vote first")
	var accepted PollPayload
	vmsgs[0].decode(t, &accepted)
	assert.Equal(t, 1, accepted.Poll.TotalVotes)

	tmsgs, _ := drain(t, teacher)
	require.Len(t, only(tmsgs, EventPollUpdated), 1)
	assert.Empty(t, only(tmsgs, EventVoteAccepted))

	h.send(t, voter, EventVoteSubmit, VoteRequest{PollID: p.ID, OptionID: p.Options[1].ID})
	vmsgs, _ = drain(t, voter)
	require.Len(t, vmsgs, 1)
	assert.Equal(t, EventVoteRejected, vmsgs[0].Event)
	var rejected MessagePayload
	vmsgs[0].decode(t, &rejected)
	assert.Equal(t, "already voted", rejected.Message)

	tmsgs, _ = drain(t, teacher)
	assert.Empty(t, tmsgs, "rejections are not broadcast")
}

func TestRejoinReportsHasVoted(t *testing.T) {
	h := newHarness(t)
	teacher := h.connect(t, "t-conn")
	h.join(t, teacher, "t1", "teacher")
	voter := h.connect(t, "s-conn")
	h.join(t, voter, "s1", "student")
	p := h.createPoll(t, teacher)
	h.send(t, voter, EventVoteSubmit, VoteRequest{PollID: p.ID, OptionID: p.Options[1].ID})

	tab := h.connect(t, "s-conn-2")
	h.join(t, tab, "s1", "student")

	msgs, _ := drain(t, tab)
	require.Len(t, only(msgs, EventPollState), 1)
	var state PollStatePayload
	only(msgs, EventPollState)[0].decode(t, &state)
	require.NotNil(t, state.Poll)
	assert.True(t, state.HasVoted)
	require.NotNil(t, state.TimeRemaining)
	assert.Equal(t, 60, *state.TimeRemaining)
}

func TestKickDisconnectsEveryConnection(t *testing.T) {
	h := newHarness(t)
	teacher := h.connect(t, "t-conn")
	h.join(t, teacher, "t1", "teacher")
	tab1 := h.connect(t, "s1-a")
	h.join(t, tab1, "s1", "student")
	tab2 := h.connect(t, "s1-b")
	h.join(t, tab2, "s1", "student")
	other := h.connect(t, "s2-a")
	h.join(t, other, "s2", "student")
	for _, c := range []*Client{teacher, tab1, tab2, other} {
		drain(t, c)
	}

	h.send(t, teacher, EventStudentKick, KickRequest{StudentID: "s1"})

	for _, c := range []*Client{tab1, tab2} {
		msgs, closed := drain(t, c)
		require.Len(t, msgs, 1)
		assert.Equal(t, EventKicked, msgs[0].Event)
		assert.True(t, closed, "kicked connection is closed after the notice")
	}
	omsgs, closed := drain(t, other)
	assert.Empty(t, omsgs)
	assert.False(t, closed)

	tmsgs, _ := drain(t, teacher)
	updates := only(tmsgs, EventParticipants)
	require.Len(t, updates, 1)
	var parts ParticipantsPayload
	updates[0].decode(t, &parts)
	require.Len(t, parts.Students, 1)
	assert.Equal(t, "s2", parts.Students[0].StudentID)
	assert.Equal(t, 2, h.hub.Count())

	// the kicked pumps exit later; their cleanup must not announce again
	h.d.Disconnect(tab1)
	tmsgs, _ = drain(t, teacher)
	assert.Empty(t, tmsgs)
}

func TestJoinAfterKickIsIgnored(t *testing.T) {
	h := newHarness(t)
	teacher := h.connect(t, "t-conn")
	h.join(t, teacher, "t1", "teacher")
	student := h.connect(t, "s1-a")
	h.join(t, student, "s1", "student")
	drain(t, teacher)
	drain(t, student)

	h.send(t, teacher, EventStudentKick, KickRequest{StudentID: "s1"})
	drain(t, teacher)

	// the socket is still readable until the writer closes it
	h.join(t, student, "s1", "student")

	assert.Equal(t, 0, h.registry.Count(session.RoleStudent))
	_, ok := h.registry.Get(student.ID())
	assert.False(t, ok)
	tmsgs, _ := drain(t, teacher)
	assert.Empty(t, only(tmsgs, EventParticipants), "teachers must not see the kicked student again")
}

func TestKickUnknownStudentIsNoop(t *testing.T) {
	h := newHarness(t)
	teacher := h.connect(t, "t-conn")
	h.join(t, teacher, "t1", "teacher")
	drain(t, teacher)

	h.send(t, teacher, EventStudentKick, KickRequest{StudentID: "ghost"})
	msgs, _ := drain(t, teacher)
	assert.Empty(t, msgs)
}

func TestDisconnectUpdatesTeachers(t *testing.T) {
	h := newHarness(t)
	teacher := h.connect(t, "t-conn")
	h.join(t, teacher, "t1", "teacher")
	st := h.connect(t, "s-conn")
	h.join(t, st, "s1", "student")
	drain(t, teacher)

	h.d.Disconnect(st)

	msgs, _ := drain(t, teacher)
	require.Len(t, only(msgs, EventParticipants), 1)
	var parts ParticipantsPayload
	msgs[0].decode(t, &parts)
	assert.Empty(t, parts.Students)
	_, closed := drain(t, st)
	assert.True(t, closed)
}

func TestChatRelay(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "a")
	h.send(t, a, EventJoin, JoinRequest{StudentID: "s1", Name: "Ada", Role: "student"})
	b := h.connect(t, "b")
	drain(t, a)

	h.send(t, a, EventChatMessage, ChatRequest{Text: "  hi all  "})
	h.send(t, a, EventChatMessage, ChatRequest{Text: "   "})

	msgs, _ := drain(t, b)
	require.Len(t, msgs, 1)
	var chat ChatPayload
	msgs[0].decode(t, &chat)
	assert.Equal(t, "hi all", chat.Text)
	assert.Equal(t, "Ada", chat.SenderName)
	assert.Equal(t, session.RoleStudent, chat.Role)

	h.send(t, a, EventChatMessage, ChatRequest{Text: gofakeit.LetterN(maxChatRunes + 1)})
	amsgs, _ := drain(t, a)
	require.Len(t, only(amsgs, EventError), 1)
	bmsgs, _ := drain(t, b)
	assert.Empty(t, bmsgs)
}

func TestUnknownAndMalformedFrames(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, "c1")

	h.send(t, c, "poll:delete", nil)
	h.d.Handle(context.Background(), c, []byte("{not json"))
	h.d.Handle(context.Background(), c, []byte(`{"data":{}}`))

	msgs, _ := drain(t, c)
	require.Len(t, msgs, 3)
	var m MessagePayload
	msgs[0].decode(t, &m)
	assert.Equal(t, msgUnknownEvent, m.Message)
	msgs[1].decode(t, &m)
	assert.Equal(t, msgInvalid, m.Message)
	msgs[2].decode(t, &m)
	assert.Equal(t, msgInvalid, m.Message)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t)
	c := newClient("c1", jsonCodec{}, nil, rate.NewLimiter(0, 1))
	require.NoError(t, h.hub.register(c))

	h.join(t, c, "s1", "student")
	h.send(t, c, EventChatMessage, ChatRequest{Text: "spam"})

	msgs, _ := drain(t, c)
	errs := only(msgs, EventError)
	require.Len(t, errs, 1)
	var m MessagePayload
	errs[0].decode(t, &m)
	assert.Equal(t, msgRateLimited, m.Message)
}

func TestLazyCompletionIsBroadcast(t *testing.T) {
	h := newHarness(t)
	teacher := h.connect(t, "t-conn")
	h.join(t, teacher, "t1", "teacher")
	p := h.createPoll(t, teacher)
	drain(t, teacher)

	_, err := h.polls.Complete(context.Background(), p.ID)
	require.NoError(t, err)

	msgs, _ := drain(t, teacher)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventPollComplete, msgs[0].Event)
	var payload PollPayload
	msgs[0].decode(t, &payload)
	assert.True(t, payload.Poll.IsCompleted)
}
