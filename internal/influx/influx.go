// Package influx ships tick performance and decision-run points to
// InfluxDB, falling back to a gzip line-protocol file when the server is
// unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/subbridge/simcore/internal/config"
)

// retention applied to buckets the manager creates
const retentionSeconds = 60 * 60 * 24 * 30

// Manager handles InfluxDB connections and writes. It is safe for
// concurrent use once Connect returned.
type Manager struct {
	Client      influxdb2.Client
	Writers     map[string]influxdb2_api.WriteAPI
	IsValid     bool
	BucketNames []string
	Logger      zerolog.Logger
	BackupPath  string

	cfg        config.InfluxConfig
	mu         sync.Mutex
	backupFile *os.File
	backup     *gzip.Writer
}

// NewManager does not connect; call Connect.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		BucketNames: []string{cfg.Bucket},
		Logger:      log.With().Str("component", "influx").Logger(),
		BackupPath:  backupPath,
		cfg:         cfg,
	}
}

// Bucket is where every simulator point is written.
func (m *Manager) Bucket() string {
	return m.cfg.Bucket
}

// Connect pings the server. When it does not answer, points go to the
// gzip backup file instead and Connect still succeeds.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.cfg.URL(),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.Logger.Warn().Err(err).Str("backupPath", m.BackupPath).
			Msg("InfluxDB unreachable, writing line protocol to backup file")
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.CreateWriters()
	m.IsValid = true
	m.Logger.Info().Str("url", m.cfg.URL()).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.backup != nil {
		return nil
	}
	if m.BackupPath == "" {
		return errors.New("influx unreachable and no backup path configured")
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.backup = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgs := m.Client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.Logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %q: %w", m.cfg.Org, err)
		}
	}

	for _, bucket := range m.BucketNames {
		if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")
		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, org, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: retentionSeconds,
		})
		if err != nil {
			return fmt.Errorf("creating bucket %q: %w", bucket, err)
		}
	}
	return nil
}

// CreateWriters creates an async write API per bucket and logs its errors.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		w := m.Client.WriteAPI(m.cfg.Org, bucket)
		m.Writers[bucket] = w
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, w.Errors())
	}
	m.Logger.Debug().Int("buckets", len(m.BucketNames)).Msg("InfluxDB writers initialized")
}

// WritePoint never blocks on the network.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.backup.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client or backup file.
func (m *Manager) Close() error {
	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return nil
	}
	err := errors.Join(m.backup.Close(), m.backupFile.Close())
	m.backup, m.backupFile = nil, nil
	return err
}
