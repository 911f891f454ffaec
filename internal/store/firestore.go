package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/visgate-ai/visgate-deploy-api/internal/ids"
)

const (
	deploymentsCollection = "deployments"
	logsSubcollection     = "logs"
)

// FirestoreStore persists deployments as one document per deployment
// id in the "deployments" collection, with logs as a "logs"
// subcollection, per the persisted-state layout. Compare-and-set is
// implemented with a Firestore transaction: read current status,
// abort with ErrCASMismatch if it disagrees, otherwise write.
type FirestoreStore struct {
	client *firestore.Client
}

// OpenFirestore connects to the Firestore database for projectID.
func OpenFirestore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore open: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// Close releases the underlying Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(deploymentsCollection).Doc(id)
}

func (s *FirestoreStore) Create(ctx context.Context, d *Deployment) error {
	_, err := s.doc(d.ID).Create(ctx, d)
	if status.Code(err) == codes.AlreadyExists {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("firestore create: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id, ownerHash string) (*Deployment, error) {
	d, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.OwnerHash != ownerHash {
		return nil, ErrNotFound
	}
	return d, nil
}

func (s *FirestoreStore) GetByID(ctx context.Context, id string) (*Deployment, error) {
	snap, err := s.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore get: %w", err)
	}
	var d Deployment
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("firestore decode: %w", err)
	}
	return &d, nil
}

func (s *FirestoreStore) Update(ctx context.Context, id string, expectedStatus Status, patch Patch) (*Deployment, error) {
	var updated Deployment

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.doc(id)
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var d Deployment
		if err := snap.DataTo(&d); err != nil {
			return err
		}
		if d.Status != expectedStatus {
			return ErrCASMismatch
		}

		d.Status = patch.NewStatus
		if patch.ResolvedTier != "" {
			d.ResolvedTier = patch.ResolvedTier
		}
		if patch.EndpointID != "" {
			d.EndpointID = patch.EndpointID
		}
		if patch.EndpointURL != "" {
			d.EndpointURL = patch.EndpointURL
		}
		if patch.Error != nil {
			d.Error = patch.Error
		}
		if patch.ReadyAt != nil && d.ReadyAt == nil {
			d.ReadyAt = patch.ReadyAt
		}
		if patch.AppendAttempt != nil {
			d.Attempts = append(d.Attempts, *patch.AppendAttempt)
		}
		d.UpdatedAt = time.Now().UTC()

		updated = d
		return tx.Set(ref, &d)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *FirestoreStore) AppendLog(ctx context.Context, id string, level LogLevel, message string) error {
	entry := LogEntry{
		ID:        ids.NewLogEntryID(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	}
	_, err := s.doc(id).Collection(logsSubcollection).Doc(entry.ID).Set(ctx, &entry)
	if err != nil {
		return fmt.Errorf("firestore append log: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	iter := s.doc(id).Collection(logsSubcollection).OrderBy("timestamp", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []LogEntry
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list logs: %w", err)
		}
		var entry LogEntry
		if err := snap.DataTo(&entry); err != nil {
			return nil, fmt.Errorf("firestore decode log: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *FirestoreStore) FindReusable(ctx context.Context, ownerHash, modelID, gpuTier string) (*Deployment, error) {
	q := s.client.Collection(deploymentsCollection).
		Where("owner_hash", "==", ownerHash).
		Where("model_id", "==", modelID)
	if gpuTier != "" {
		q = q.Where("requested_tier", "==", gpuTier)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore find reusable: %w", err)
		}
		var d Deployment
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("firestore decode: %w", err)
		}
		if d.Status == StatusFailed || d.Status == StatusDeleted || d.Status == StatusTimeout {
			continue
		}
		return &d, nil
	}
	return nil, ErrNotFound
}
