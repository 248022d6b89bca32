package service

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/Rrens/genai-platform/internal/cloud"
	"github.com/Rrens/genai-platform/internal/dataplane"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/retriever"
	"github.com/Rrens/genai-platform/internal/security"
	"github.com/Rrens/genai-platform/internal/task"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const reapBatch = 100

// credentialSource opens a user's Data Plane credential.
type credentialSource interface {
	DataPlaneCredential(ctx context.Context, userID string) (dataplane.Credential, error)
}

// SessionDetail is a session with its message log.
type SessionDetail struct {
	domain.Session
	Messages []domain.Message `json:"ChatHistory"`
}

// SessionFile is an object attached to a session.
type SessionFile struct {
	Name         string    `json:"FileName"`
	Size         int64     `json:"FileSize"`
	LastModified time.Time `json:"LastModifiedTime"`
}

// FileEvent is an object-store notification about a session file.
type FileEvent struct {
	Key     string `json:"Key"`
	Deleted bool   `json:"Deleted"`
}

// SessionService manages chat sessions, their messages and files
type SessionService struct {
	sessionRepo domain.SessionRepository
	messageRepo domain.MessageRepository
	objects     cloud.ObjectStore
	credentials credentialSource
	dataPlane   DataPlane
	bucket      string
	presignTTL  time.Duration
	now         func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(
	sessionRepo domain.SessionRepository,
	messageRepo domain.MessageRepository,
	objects cloud.ObjectStore,
	credentials credentialSource,
	dataPlane DataPlane,
	bucket string,
	presignTTL time.Duration,
) *SessionService {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &SessionService{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		objects:     objects,
		credentials: credentials,
		dataPlane:   dataPlane,
		bucket:      bucket,
		presignTTL:  presignTTL,
		now:         time.Now,
	}
}

// Create opens a session with a client-kind dependent expiry.
func (s *SessionService) Create(ctx context.Context, userID, clientID string) (*domain.Session, error) {
	return s.create(ctx, userID, uuid.NewString(), clientID)
}

func (s *SessionService) create(ctx context.Context, userID, sessionID, clientID string) (*domain.Session, error) {
	if clientID == "" {
		clientID = userID
	}
	now := s.now().UTC()
	session := &domain.Session{
		UserID:       userID,
		ID:           sessionID,
		ClientID:     clientID,
		Title:        domain.DefaultSessionTitle,
		StartTime:    now,
		LastModified: now,
		ExpiresAt:    domain.SessionExpiry(clientID, now),
		Files:        []string{},
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return nil, err
		}
		return nil, domain.Storage(err, "failed to create session")
	}
	return session, nil
}

// List returns the caller's sessions with clientID.
func (s *SessionService) List(ctx context.Context, userID, clientID string, opts domain.ListOptions) (domain.Page[domain.Session], error) {
	if clientID == "" {
		clientID = userID
	}
	sessions, err := s.sessionRepo.List(ctx, userID, clientID)
	if err != nil {
		return domain.Page[domain.Session]{}, domain.Storage(err, "failed to list sessions")
	}
	return paginate(sessions, opts, sortFields[domain.Session]{
		"LastModifiedTime": func(a, b domain.Session) bool { return before(a.LastModified, b.LastModified) },
		"StartTime":        func(a, b domain.Session) bool { return before(a.StartTime, b.StartTime) },
		"Title":            func(a, b domain.Session) bool { return a.Title < b.Title },
	}), nil
}

// Get returns a session with up to limit recent messages; 0 returns all.
// While a turn is processing its answer is withheld.
func (s *SessionService) Get(ctx context.Context, userID, sessionID string, limit int) (*SessionDetail, error) {
	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.messageRepo.History(ctx, sessionID, limit)
	if err != nil {
		return nil, domain.Storage(err, "failed to load history")
	}
	if session.QueryStatus == domain.QueryProcessing {
		messages = withholdPending(messages)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return &SessionDetail{Session: *session, Messages: messages}, nil
}

// withholdPending drops an ai message answering the last human message.
func withholdPending(messages []domain.Message) []domain.Message {
	n := len(messages)
	if n >= 2 && messages[n-1].Type == domain.MessageAI &&
		messages[n-2].Type == domain.MessageHuman && messages[n-1].MessageID == messages[n-2].MessageID {
		return messages[:n-1]
	}
	return messages
}

// Delete removes a session, its files and its messages.
func (s *SessionService) Delete(ctx context.Context, userID, sessionID string) error {
	if _, err := s.load(ctx, userID, sessionID); err != nil {
		return err
	}
	return s.purge(ctx, userID, sessionID)
}

func (s *SessionService) purge(ctx context.Context, userID, sessionID string) error {
	// 1. Session files
	if err := s.objects.DeletePrefix(ctx, s.bucket, domain.SessionPrefix(userID, sessionID)); err != nil {
		return domain.Upstream(err, "failed to delete session files")
	}

	// 2. Message log
	if err := s.messageRepo.DeleteSession(ctx, sessionID); err != nil {
		return domain.Storage(err, "failed to delete messages")
	}

	// 3. Session record
	if err := s.sessionRepo.Delete(ctx, userID, sessionID); err != nil && !notFound(err) {
		return domain.Storage(err, "failed to delete session")
	}
	return nil
}

// GetMessage returns the human and ai messages of one turn.
func (s *SessionService) GetMessage(ctx context.Context, userID, sessionID, messageID string) ([]domain.Message, error) {
	if _, err := s.load(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	messages, err := s.messageRepo.Get(ctx, sessionID, messageID)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("message %s not found", messageID)
		}
		return nil, domain.Storage(err, "failed to load message")
	}
	return messages, nil
}

// ListFiles returns the files stored for a session and reconciles the
// session's attachment list with the object store.
func (s *SessionService) ListFiles(ctx context.Context, userID, sessionID string) ([]SessionFile, error) {
	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	objects, err := s.objects.List(ctx, s.bucket, domain.SessionPrefix(userID, sessionID))
	if err != nil {
		return nil, domain.Upstream(err, "failed to list session files")
	}

	files := make([]SessionFile, 0, len(objects))
	present := make(map[string]bool, len(objects))
	for _, o := range objects {
		_, _, name, ok := domain.ParseSessionFileKey(o.Key)
		if !ok {
			continue
		}
		present[name] = true
		files = append(files, SessionFile{Name: name, Size: o.Size, LastModified: o.LastModified})
		if !session.HasFile(name) {
			if err := s.sessionRepo.AttachFile(ctx, userID, sessionID, name); err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Str("file", name).Msg("failed to attach session file")
			}
		}
	}
	for _, name := range session.Files {
		if !present[name] {
			if err := s.sessionRepo.DetachFile(ctx, userID, sessionID, name); err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Str("file", name).Msg("failed to detach session file")
			}
		}
	}
	return files, nil
}

// UploadURL returns a presigned URL to upload a session file.
func (s *SessionService) UploadURL(ctx context.Context, userID, sessionID, fileName string) (string, error) {
	name, err := security.SanitizeFileName(fileName)
	if err != nil {
		return "", domain.Invalid("%s", err.Error())
	}
	if ext := strings.ToLower(path.Ext(name)); !retriever.Supported(ext) {
		return "", domain.E(domain.KindUnsupportedFileType, nil, "unsupported file type %q", ext)
	}
	if _, err := s.load(ctx, userID, sessionID); err != nil {
		return "", err
	}
	url, err := s.objects.PresignPut(ctx, s.bucket, domain.SessionFileKey(userID, sessionID, name), s.presignTTL)
	if err != nil {
		return "", domain.Upstream(err, "failed to presign upload")
	}
	return url, nil
}

// DeleteFiles removes files from a session.
func (s *SessionService) DeleteFiles(ctx context.Context, userID, sessionID string, names []string) error {
	if _, err := s.load(ctx, userID, sessionID); err != nil {
		return err
	}
	for _, name := range names {
		if err := s.objects.Delete(ctx, s.bucket, domain.SessionFileKey(userID, sessionID, name)); err != nil &&
			!errors.Is(err, cloud.ErrObjectNotFound) {
			return domain.Upstream(err, "failed to delete %s", name)
		}
		if err := s.sessionRepo.DetachFile(ctx, userID, sessionID, name); err != nil {
			return domain.Storage(err, "failed to detach %s", name)
		}
	}
	return nil
}

// UploadToDataset copies a session file into a Data Plane dataset.
func (s *SessionService) UploadToDataset(ctx context.Context, userID, sessionID, fileName, datasetID string) (string, error) {
	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return "", err
	}
	if !session.HasFile(fileName) {
		return "", domain.NotFoundf("file %s is not attached to session %s", fileName, sessionID)
	}
	cred, err := s.credentials.DataPlaneCredential(ctx, userID)
	if err != nil {
		return "", err
	}

	body, err := s.objects.Get(ctx, s.bucket, domain.SessionFileKey(userID, sessionID, fileName))
	if err != nil {
		if errors.Is(err, cloud.ErrObjectNotFound) {
			return "", domain.NotFoundf("file %s not found", fileName)
		}
		return "", domain.Upstream(err, "failed to read session file")
	}
	defer body.Close()

	key, err := s.dataPlane.UploadFile(ctx, cred, datasetID, fileName, body)
	if err != nil {
		return "", err
	}
	log.Info().Str("session_id", sessionID).Str("dataset_id", datasetID).Str("key", key).Msg("session file uploaded to dataset")
	return key, nil
}

// Register binds the object-store event handler.
func (s *SessionService) Register(d *task.Dispatcher) {
	d.Register(task.SessionFileEvent, func(ctx context.Context, env task.Envelope) error {
		var ev FileEvent
		if err := env.Decode(&ev); err != nil {
			return task.Permanent(err)
		}
		return s.HandleFileEvent(ctx, ev)
	})
}

// HandleFileEvent attaches or detaches a file after an object-store event.
func (s *SessionService) HandleFileEvent(ctx context.Context, ev FileEvent) error {
	userID, sessionID, name, ok := domain.ParseSessionFileKey(ev.Key)
	if !ok {
		log.Warn().Str("key", ev.Key).Msg("ignoring event for non-session key")
		return nil
	}
	var err error
	if ev.Deleted {
		err = s.sessionRepo.DetachFile(ctx, userID, sessionID, name)
	} else {
		err = s.sessionRepo.AttachFile(ctx, userID, sessionID, name)
	}
	if notFound(err) {
		return nil
	}
	return err
}

// Reap deletes sessions whose expiry has passed.
func (s *SessionService) Reap(ctx context.Context) (int, error) {
	expired, err := s.sessionRepo.ListExpired(ctx, s.now().UTC(), reapBatch)
	if err != nil {
		return 0, domain.Storage(err, "failed to list expired sessions")
	}
	reaped := 0
	for _, session := range expired {
		if err := s.purge(ctx, session.UserID, session.ID); err != nil {
			log.Error().Err(err).Str("session_id", session.ID).Msg("failed to reap session")
			continue
		}
		reaped++
	}
	return reaped, nil
}

// Reaper runs Reap every interval until ctx is done.
func (s *SessionService) Reaper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Reap(ctx)
			if err != nil {
				log.Error().Err(err).Msg("session reaper failed")
				continue
			}
			if n > 0 {
				log.Info().Int("sessions", n).Msg("expired sessions reaped")
			}
		}
	}
}

func (s *SessionService) load(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	session, err := s.sessionRepo.Get(ctx, userID, sessionID)
	if err != nil {
		if notFound(err) {
			return nil, domain.NotFoundf("session %s not found", sessionID)
		}
		return nil, domain.Storage(err, "failed to load session")
	}
	return session, nil
}
