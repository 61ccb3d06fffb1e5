package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairprep/interview-server-go/internal/audit"
	apperrors "github.com/pairprep/interview-server-go/internal/errors"
	"github.com/pairprep/interview-server-go/internal/metrics"
	"github.com/pairprep/interview-server-go/internal/model"
	"github.com/pairprep/interview-server-go/internal/repository"
	"github.com/pairprep/interview-server-go/internal/sse"
	"github.com/pairprep/interview-server-go/internal/stream"
)

const callIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// EventPublisher pushes session lifecycle events to connected clients.
// Publishing is always best-effort; a failed publish never fails the
// operation that triggered it.
type EventPublisher interface {
	Publish(ctx context.Context, sessionID string, event sse.Event) error
}

type CreateSessionInput struct {
	Problem         string
	Difficulty      string
	MaxParticipants int
}

// SessionResult is an operation's outcome: the updated session plus an
// optional user-facing message.
type SessionResult struct {
	Session model.SessionView
	Message string
}

// SessionService is the session lifecycle manager. It owns every mutation
// of the session row and coordinates compensating actions when provider
// provisioning partially fails. Ordering invariant: local commit first,
// then the external effect, then compensate locally when the external
// effect fails.
type SessionService struct {
	sessionRepo     repository.SessionRepository
	provisioner     stream.Provisioner
	publisher       EventPublisher
	collector       *metrics.Collector
	maxParticipants int
}

func NewSessionService(
	sessionRepo repository.SessionRepository,
	provisioner stream.Provisioner,
	publisher EventPublisher,
	collector *metrics.Collector,
	maxParticipants int,
) *SessionService {
	return &SessionService{
		sessionRepo:     sessionRepo,
		provisioner:     provisioner,
		publisher:       publisher,
		collector:       collector,
		maxParticipants: maxParticipants,
	}
}

// Create provisions a new session: the row, then the provider call, then
// the chat channel. Any provisioning failure rolls back everything already
// created, so callers observe either a fully provisioned session or none.
func (s *SessionService) Create(ctx context.Context, host *model.User, input CreateSessionInput) (*model.SessionView, error) {
	problem := strings.TrimSpace(input.Problem)
	if problem == "" {
		return nil, apperrors.MissingRequired("problem")
	}
	if input.Difficulty == "" {
		return nil, apperrors.MissingRequired("difficulty")
	}
	difficulty := model.Difficulty(input.Difficulty)
	if !difficulty.Valid() {
		return nil, apperrors.InvalidInput("difficulty", "must be easy, medium or hard")
	}

	maxParticipants := input.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = s.maxParticipants
	}
	if maxParticipants < 1 {
		return nil, apperrors.InvalidInput("maxParticipants", "must be positive")
	}

	callID, err := newCallID()
	if err != nil {
		return nil, fmt.Errorf("generate call id: %w", err)
	}

	session, err := s.sessionRepo.Create(ctx, model.CreateSessionParams{
		Problem:         problem,
		Difficulty:      difficulty,
		HostID:          host.ID,
		MaxParticipants: maxParticipants,
		CallID:          callID,
	})
	if err != nil {
		s.collector.RecordLifecycleOp("create", err)
		return nil, apperrors.Database(err)
	}

	err = s.provisioner.CreateCall(ctx, callID, stream.CallMetadata{
		CreatedByID: host.ExternalID,
		Problem:     problem,
		Difficulty:  string(difficulty),
		SessionID:   session.ID,
	})
	s.collector.RecordProvisionerCall("create_call", err)
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Str("callId", callID).Msg("call creation failed, rolling back session")
		s.rollbackCreate(ctx, session.ID, "", host.ID)
		s.collector.RecordLifecycleOp("create", err)
		return nil, apperrors.Provisioning("video call", err)
	}

	err = s.provisioner.CreateChatChannel(ctx, callID, stream.ChannelMetadata{
		Name:        fmt.Sprintf("%s Session", problem),
		CreatedByID: host.ExternalID,
		Members:     []string{host.ExternalID},
	})
	s.collector.RecordProvisionerCall("create_chat_channel", err)
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Str("callId", callID).Msg("chat channel creation failed, rolling back session and call")
		s.rollbackCreate(ctx, session.ID, callID, host.ID)
		s.collector.RecordLifecycleOp("create", err)
		return nil, apperrors.Provisioning("chat channel", err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionCreate,
		UserID:    host.ID,
		SessionID: session.ID,
		Details:   map[string]interface{}{"problem": problem, "difficulty": string(difficulty)},
	})
	s.collector.RecordLifecycleOp("create", nil)

	log.Info().
		Str("sessionId", session.ID).
		Str("callId", callID).
		Str("hostId", host.ID).
		Msg("session created")

	detail := model.SessionDetail{
		Session:      *session,
		Host:         *host,
		Participants: []model.User{},
	}
	view := detail.View()
	return &view, nil
}

// rollbackCreate deletes the session row and, when a call was already
// provisioned, attempts to delete it. Failures of the compensating call
// delete are logged, not escalated; the provider resource may leak.
func (s *SessionService) rollbackCreate(ctx context.Context, sessionID, callID, hostID string) {
	if err := s.sessionRepo.Delete(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to delete session during rollback")
	}
	if callID != "" {
		err := s.provisioner.DeleteCall(ctx, callID)
		s.collector.RecordProvisionerCall("delete_call", err)
		if err != nil {
			log.Error().Err(err).Str("callId", callID).Msg("failed to delete call during rollback")
		}
	}
	audit.Log(ctx, audit.Event{
		Type:      audit.EventProvisionRollback,
		UserID:    hostID,
		SessionID: sessionID,
	})
}

func (s *SessionService) GetByID(ctx context.Context, id string) (*model.SessionView, error) {
	detail, err := s.sessionRepo.FindDetail(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if detail == nil {
		return nil, apperrors.NotFound("Session")
	}
	view := detail.View()
	return &view, nil
}

func (s *SessionService) ListActive(ctx context.Context, limit int) ([]model.SessionView, error) {
	details, err := s.sessionRepo.ListByStatus(ctx, model.SessionStatusActive, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return views(details), nil
}

func (s *SessionService) ListMine(ctx context.Context, userID string, status model.SessionStatus, limit int) ([]model.SessionView, error) {
	details, err := s.sessionRepo.ListByMember(ctx, userID, status, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return views(details), nil
}

// Join adds the user to an active session. A host or existing participant
// joining again is an idempotent rejoin. For genuinely new participants the
// membership write happens before the provider chat add and is reverted if
// that add fails, so join is all-or-nothing to the caller.
func (s *SessionService) Join(ctx context.Context, sessionID string, user *model.User) (*SessionResult, error) {
	result, err := s.join(ctx, sessionID, user)
	s.collector.RecordLifecycleOp("join", err)
	return result, err
}

func (s *SessionService) join(ctx context.Context, sessionID string, user *model.User) (*SessionResult, error) {
	detail, err := s.sessionRepo.FindDetail(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if detail == nil {
		return nil, apperrors.NotFound("Session")
	}

	if detail.Status != model.SessionStatusActive {
		return nil, apperrors.InvalidState("Cannot join a completed session")
	}

	if detail.IsHost(user.ID) {
		return &SessionResult{Session: detail.View(), Message: "Rejoined as host"}, nil
	}
	if detail.HasParticipant(user.ID) {
		return &SessionResult{Session: detail.View(), Message: "Rejoined session"}, nil
	}

	if len(detail.Participants) >= detail.MaxParticipants {
		return nil, apperrors.SessionFull(detail.MaxParticipants)
	}

	added, err := s.sessionRepo.AddParticipant(ctx, sessionID, user.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !added {
		// Lost a race: either the list filled up or this user was inserted
		// concurrently. Re-read to tell the two apart.
		detail, err = s.sessionRepo.FindDetail(ctx, sessionID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if detail == nil {
			return nil, apperrors.NotFound("Session")
		}
		if detail.HasParticipant(user.ID) {
			return &SessionResult{Session: detail.View(), Message: "Rejoined session"}, nil
		}
		return nil, apperrors.SessionFull(detail.MaxParticipants)
	}

	err = s.provisioner.AddMembers(ctx, detail.CallID, []string{user.ExternalID})
	s.collector.RecordProvisionerCall("add_members", err)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Str("userId", user.ID).Msg("chat member add failed, reverting join")
		if _, revertErr := s.sessionRepo.RemoveParticipant(ctx, sessionID, user.ID); revertErr != nil {
			log.Error().Err(revertErr).Str("sessionId", sessionID).Str("userId", user.ID).Msg("failed to revert participant after chat failure")
		}
		return nil, apperrors.Provisioning("chat membership", err)
	}

	detail, err = s.sessionRepo.FindDetail(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if detail == nil {
		return nil, apperrors.NotFound("Session")
	}

	s.publishEvent(ctx, sessionID, sse.EventParticipantJoined, user)
	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionJoin,
		UserID:    user.ID,
		SessionID: sessionID,
	})

	log.Info().Str("sessionId", sessionID).Str("userId", user.ID).Msg("participant joined")

	return &SessionResult{Session: detail.View()}, nil
}

// Leave removes a participant at their own request. The provider-side chat
// removal is best-effort: a failure there is logged but never rolls the
// leave back, deliberately asymmetric with Join.
func (s *SessionService) Leave(ctx context.Context, sessionID string, user *model.User) (*SessionResult, error) {
	result, err := s.leave(ctx, sessionID, user)
	s.collector.RecordLifecycleOp("leave", err)
	return result, err
}

func (s *SessionService) leave(ctx context.Context, sessionID string, user *model.User) (*SessionResult, error) {
	detail, err := s.sessionRepo.FindDetail(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if detail == nil {
		return nil, apperrors.NotFound("Session")
	}

	if detail.Status != model.SessionStatusActive {
		return nil, apperrors.InvalidState("Cannot leave a completed session")
	}
	if detail.IsHost(user.ID) {
		return nil, apperrors.InvalidState("Host cannot leave the session; end it instead")
	}
	if !detail.HasParticipant(user.ID) {
		return nil, apperrors.InvalidState("Not a participant of this session")
	}

	if _, err := s.sessionRepo.RemoveParticipant(ctx, sessionID, user.ID); err != nil {
		return nil, apperrors.Database(err)
	}

	err = s.provisioner.RemoveMembers(ctx, detail.CallID, []string{user.ExternalID})
	s.collector.RecordProvisionerCall("remove_members", err)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Str("userId", user.ID).Msg("chat member removal failed after leave")
	}

	detail, err = s.sessionRepo.FindDetail(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if detail == nil {
		return nil, apperrors.NotFound("Session")
	}

	s.publishEvent(ctx, sessionID, sse.EventParticipantLeft, user)
	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionLeave,
		UserID:    user.ID,
		SessionID: sessionID,
	})

	log.Info().Str("sessionId", sessionID).Str("userId", user.ID).Msg("participant left")

	return &SessionResult{Session: detail.View(), Message: "Left the session"}, nil
}

// RemoveParticipant ejects a participant; only the host may do this.
func (s *SessionService) RemoveParticipant(ctx context.Context, sessionID string, actor *model.User, participantID string) (*SessionResult, error) {
	result, err := s.removeParticipant(ctx, sessionID, actor, participantID)
	s.collector.RecordLifecycleOp("remove_participant", err)
	return result, err
}

func (s *SessionService) removeParticipant(ctx context.Context, sessionID string, actor *model.User, participantID string) (*SessionResult, error) {
	if participantID == "" {
		return nil, apperrors.MissingRequired("participantId")
	}

	detail, err := s.sessionRepo.FindDetail(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if detail == nil {
		return nil, apperrors.NotFound("Session")
	}

	if !detail.IsHost(actor.ID) {
		return nil, apperrors.Forbidden("Only the host can remove participants")
	}
	if detail.Status != model.SessionStatusActive {
		return nil, apperrors.InvalidState("Cannot modify a completed session")
	}

	var target *model.User
	for i := range detail.Participants {
		if detail.Participants[i].ID == participantID {
			target = &detail.Participants[i]
			break
		}
	}
	if target == nil {
		return nil, apperrors.NotFound("Participant")
	}

	if _, err := s.sessionRepo.RemoveParticipant(ctx, sessionID, participantID); err != nil {
		return nil, apperrors.Database(err)
	}

	err = s.provisioner.RemoveMembers(ctx, detail.CallID, []string{target.ExternalID})
	s.collector.RecordProvisionerCall("remove_members", err)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Str("participantId", participantID).Msg("chat member removal failed after host removal")
	}

	detail, err = s.sessionRepo.FindDetail(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if detail == nil {
		return nil, apperrors.NotFound("Session")
	}

	s.publishEvent(ctx, sessionID, sse.EventParticipantRemoved, target)
	audit.Log(ctx, audit.Event{
		Type:      audit.EventParticipantRemove,
		UserID:    actor.ID,
		SessionID: sessionID,
		Details:   map[string]interface{}{"participant_id": participantID},
	})

	log.Info().Str("sessionId", sessionID).Str("participantId", participantID).Msg("participant removed by host")

	return &SessionResult{Session: detail.View(), Message: "Participant removed"}, nil
}

// End completes a session. The provider call and chat channel deletions are
// best-effort; the local status transition is the source of truth and always
// completes. When either deletion fails the session is flagged so the
// background reconciler retries the teardown later.
func (s *SessionService) End(ctx context.Context, sessionID string, actor *model.User) (*SessionResult, error) {
	result, err := s.end(ctx, sessionID, actor)
	s.collector.RecordLifecycleOp("end", err)
	return result, err
}

func (s *SessionService) end(ctx context.Context, sessionID string, actor *model.User) (*SessionResult, error) {
	detail, err := s.sessionRepo.FindDetail(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if detail == nil {
		return nil, apperrors.NotFound("Session")
	}

	if !detail.IsHost(actor.ID) {
		return nil, apperrors.Forbidden("Only the host can end the session")
	}
	if detail.Status != model.SessionStatusActive {
		return nil, apperrors.InvalidState("Session is already completed")
	}

	released := true

	err = s.provisioner.DeleteCall(ctx, detail.CallID)
	s.collector.RecordProvisionerCall("delete_call", err)
	if err != nil {
		released = false
		log.Warn().Err(err).Str("sessionId", sessionID).Str("callId", detail.CallID).Msg("call deletion failed, continuing with end")
	}

	err = s.provisioner.DeleteChatChannel(ctx, detail.CallID)
	s.collector.RecordProvisionerCall("delete_chat_channel", err)
	if err != nil {
		released = false
		log.Warn().Err(err).Str("sessionId", sessionID).Str("callId", detail.CallID).Msg("chat channel deletion failed, continuing with end")
	}

	if err := s.sessionRepo.MarkCompleted(ctx, sessionID, released); err != nil {
		return nil, apperrors.Database(err)
	}

	s.publishEvent(ctx, sessionID, sse.EventSessionEnded, nil)
	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionEnd,
		UserID:    actor.ID,
		SessionID: sessionID,
		Details:   map[string]interface{}{"resources_released": released},
	})

	log.Info().
		Str("sessionId", sessionID).
		Bool("resourcesReleased", released).
		Msg("session ended")

	detail.Status = model.SessionStatusCompleted
	return &SessionResult{Session: detail.View(), Message: "Session ended successfully"}, nil
}

func (s *SessionService) publishEvent(ctx context.Context, sessionID, eventType string, user *model.User) {
	if s.publisher == nil {
		return
	}

	var data []byte
	if user != nil {
		data, _ = json.Marshal(map[string]string{
			"externalId": user.ExternalID,
			"name":       user.Name,
		})
	} else {
		data = []byte(`{}`)
	}

	if err := s.publisher.Publish(ctx, sessionID, sse.Event{Type: eventType, Data: data}); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Str("event", eventType).Msg("failed to publish session event")
	}
}

func views(details []model.SessionDetail) []model.SessionView {
	out := make([]model.SessionView, 0, len(details))
	for _, d := range details {
		out = append(out, d.View())
	}
	return out
}

// newCallID generates the provider correlation token for a session,
// session_<unixMillis>_<random>.
func newCallID() (string, error) {
	suffix := make([]byte, 6)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(callIDAlphabet))))
		if err != nil {
			return "", err
		}
		suffix[i] = callIDAlphabet[n.Int64()]
	}
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), string(suffix)), nil
}
