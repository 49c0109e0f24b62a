package realtime

import (
	"time"

	"live-polling/internal/domain/poll"
	"live-polling/internal/session"
)

// Inbound events.
const (
	EventJoin        = "join"
	EventPollCreate  = "poll:create"
	EventVoteSubmit  = "vote:submit"
	EventStudentKick = "student:kick"
	EventChatMessage = "chat:message"
)

// Outbound events.
const (
	EventPollState    = "poll:state"
	EventPollStarted  = "poll:started"
	EventPollUpdated  = "poll:updated"
	EventPollComplete = "poll:completed"
	EventVoteAccepted = "vote:accepted"
	EventVoteRejected = "vote:rejected"
	EventParticipants = "participants:updated"
	EventKicked       = "kicked"
	EventError        = "error"
)

const (
	msgUnauthorized  = "Unauthorized"
	msgNotRegistered = "Not registered"
	msgUnknownEvent  = "unknown event"
	msgInvalid       = "invalid message"
	msgRateLimited   = "too many requests"
	msgKicked        = "You have been removed by the teacher"
)

type JoinRequest struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Token     string `json:"token,omitempty"`
}

type VoteRequest struct {
	PollID   string `json:"pollId"`
	OptionID string `json:"optionId"`
}

type KickRequest struct {
	StudentID string `json:"studentId"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type PollStatePayload struct {
	Poll          *poll.Poll `json:"poll"`
	TimeRemaining *int       `json:"timeRemaining"`
	HasVoted      bool       `json:"hasVoted"`
}

type PollStartedPayload struct {
	Poll          *poll.Poll `json:"poll"`
	TimeRemaining int        `json:"timeRemaining"`
}

type PollPayload struct {
	Poll *poll.Poll `json:"poll"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

type Student struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
}

type ParticipantsPayload struct {
	Students []Student `json:"students"`
}

type ChatPayload struct {
	SenderID   string       `json:"senderId"`
	SenderName string       `json:"senderName"`
	Role       session.Role `json:"role"`
	Text       string       `json:"text"`
	Timestamp  time.Time    `json:"timestamp"`
}

func studentsPayload(ps []session.Participant) ParticipantsPayload {
	students := make([]Student, 0, len(ps))
	for _, p := range ps {
		students = append(students, Student{StudentID: p.StudentID, Name: p.Name})
	}
	return ParticipantsPayload{Students: students}
}
