package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"automl-backend/internal/automl"
	"automl-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists sessions as rows of the sessions table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Upload ids are not columns; they are recovered from the object key, which
// has the form <session>/<kind>/<upload id>/<name>.
func refFromRow(name string, key sql.NullString) FileRef {
	if !key.Valid {
		return FileRef{}
	}
	ref := FileRef{Name: name, Key: key.String}
	if parts := strings.SplitN(key.String, "/", 4); len(parts) == 4 {
		ref.UploadId, _ = uuid.Parse(parts[2])
	}
	return ref
}

func toRow(s *State) (database.Session, error) {
	roles, err := json.Marshal(s.Roles)
	if err != nil {
		return database.Session{}, fmt.Errorf("error encoding roles: %w", err)
	}

	var model datatypes.JSON
	if s.Model != nil {
		model, err = json.Marshal(s.Model)
		if err != nil {
			return database.Session{}, fmt.Errorf("error encoding model: %w", err)
		}
	}

	return database.Session{
		Id:                  s.Id,
		Stage:               string(s.Stage),
		TrainUploaded:       s.TrainUploaded,
		DoneSelection:       s.DoneSelection,
		TrainFileName:       s.TrainFile.Name,
		TrainFileKey:        nullString(s.TrainFile.Key),
		PredictFileName:     s.PredictFile.Name,
		PredictFileKey:      nullString(s.PredictFile.Key),
		Roles:               roles,
		TargetIsCategorical: s.TargetIsCategorical,
		Model:               model,
		ResultKey:           nullString(s.ResultKey),
		Message:             s.Message,
		ErrorMessage:        nullString(s.Error),
		UpdateTime:          time.Now().UTC(),
	}, nil
}

func fromRow(row database.Session) (*State, error) {
	s := &State{
		Id:                  row.Id,
		Stage:               Stage(row.Stage),
		TrainUploaded:       row.TrainUploaded,
		DoneSelection:       row.DoneSelection,
		TrainFile:           refFromRow(row.TrainFileName, row.TrainFileKey),
		PredictFile:         refFromRow(row.PredictFileName, row.PredictFileKey),
		TargetIsCategorical: row.TargetIsCategorical,
		ResultKey:           row.ResultKey.String,
		Message:             row.Message,
		Error:               row.ErrorMessage.String,
	}

	if len(row.Roles) > 0 {
		if err := json.Unmarshal(row.Roles, &s.Roles); err != nil {
			return nil, fmt.Errorf("error decoding roles of session %s: %w", row.Id, err)
		}
	}
	if len(row.Model) > 0 && string(row.Model) != "null" {
		var model automl.Model
		if err := json.Unmarshal(row.Model, &model); err != nil {
			return nil, fmt.Errorf("error decoding model of session %s: %w", row.Id, err)
		}
		s.Model = &model
	}

	return s, nil
}

func (st *Store) Create(ctx context.Context) (*State, error) {
	s := NewState()
	row, err := toRow(s)
	if err != nil {
		return nil, err
	}
	row.CreationTime = row.UpdateTime

	if err := st.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return s, nil
}

func (st *Store) Load(ctx context.Context, id uuid.UUID) (*State, error) {
	var row database.Session
	if err := st.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("error loading session %s: %w", id, err)
	}
	return fromRow(row)
}

// Save writes every field of s, including zero values.
func (st *Store) Save(ctx context.Context, s *State) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}

	result := st.db.WithContext(ctx).Model(&database.Session{Id: s.Id}).Select("*").Omit("id", "creation_time", clause.Associations).Updates(&row)
	if result.Error != nil {
		return fmt.Errorf("error saving session %s: %w", s.Id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.Id)
	}
	return nil
}
