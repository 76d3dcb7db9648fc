package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/rdb.v2"
	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const schema = `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50),
        study_name TEXT,
        f1 REAL,
        accuracy REAL,
        precision REAL,
        recall REAL,
        validation_f1 REAL,
        params TEXT,
        data_points INTEGER,
        encoder_path TEXT,
        model_path TEXT,
        trained_at DATETIME
    );
    `

// Store keeps hyperparameter studies (goptuna's relational schema) and the
// training log in one SQLite file.
type Store struct {
	db      *sql.DB
	studies *rdb.Storage
}

// Open creates the parent directory if needed, migrates the goptuna tables and
// applies the training_log schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	database, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	if err := rdb.RunAutoMigrate(gdb); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate study tables: %w", err)
	}
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: database, studies: rdb.NewStorage(gdb)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Studies is the goptuna storage backed by this file.
func (s *Store) Studies() goptuna.Storage {
	return s.studies
}

type TrainingLog struct {
	ModelName    string                 `json:"model_name"`
	StudyName    string                 `json:"study_name"`
	F1           float64                `json:"f1"`
	Accuracy     float64                `json:"accuracy"`
	Precision    float64                `json:"precision"`
	Recall       float64                `json:"recall"`
	ValidationF1 float64                `json:"validation_f1"`
	Params       map[string]interface{} `json:"params"`
	DataPoints   int                    `json:"data_points"`
	EncoderPath  string                 `json:"encoder_path"`
	ModelPath    string                 `json:"model_path"`
	TrainedAt    time.Time              `json:"trained_at"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	params, err := json.Marshal(log.Params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO training_log (
            model_name, study_name, f1, accuracy, precision, recall, validation_f1,
            params, data_points, encoder_path, model_path, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ModelName, log.StudyName, log.F1, log.Accuracy, log.Precision, log.Recall, log.ValidationF1,
		string(params), log.DataPoints, log.EncoderPath, log.ModelPath, log.TrainedAt.UTC())
	return err
}

// LoadTrainingLog returns runs newest first.
func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_name, study_name, f1, accuracy, precision, recall, validation_f1,
               params, data_points, encoder_path, model_path, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var params string
		if err := rows.Scan(&log.ModelName, &log.StudyName, &log.F1, &log.Accuracy, &log.Precision, &log.Recall,
			&log.ValidationF1, &params, &log.DataPoints, &log.EncoderPath, &log.ModelPath, &log.TrainedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &log.Params); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
