package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"telemetry-service/internal/config"
	"telemetry-service/internal/util"
)

// PreparedStatements holds the statements the entity repository actually uses
type PreparedStatements struct {
	GetProfile         *gocql.Query
	CountSocialLinks   *gocql.Query
	CountLockers       *gocql.Query
	GetReferralCount   *gocql.Query
	GetProgress        *gocql.Query
	CreateProgress     *gocql.Query
	UpsertDerivedFlags *gocql.Query
	SetDiscordJoined   *gocql.Query
	SetCompleted       *gocql.Query
	SetDismissed       *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.GetProfile = s.Session.Query(`
        SELECT user_bucket, user_id, username, is_live, created_at, updated_at
        FROM profiles WHERE user_bucket = ? AND user_id = ?`)

	prepared.CountSocialLinks = s.Session.Query(`
        SELECT COUNT(*) FROM social_links WHERE user_bucket = ? AND user_id = ?`)

	prepared.CountLockers = s.Session.Query(`
        SELECT COUNT(*) FROM lockers WHERE user_bucket = ? AND user_id = ?`)

	prepared.GetReferralCount = s.Session.Query(`
        SELECT referred_count FROM referrals WHERE user_bucket = ? AND user_id = ?`)

	prepared.GetProgress = s.Session.Query(`
        SELECT user_bucket, user_id, username_claimed, bio_site_visited,
            social_link_added, bio_site_published, content_locked, locker_embedded,
            user_invited, discord_joined, onboarding_completed, onboarding_dismissed,
            updated_at
        FROM onboarding_progress WHERE user_bucket = ? AND user_id = ?`)

	prepared.CreateProgress = s.Session.Query(`
        INSERT INTO onboarding_progress (
            user_bucket, user_id, username_claimed, bio_site_visited,
            social_link_added, bio_site_published, content_locked, locker_embedded,
            user_invited, discord_joined, onboarding_completed, onboarding_dismissed,
            updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	// UPDATE has upsert semantics here, and touching only the derived columns
	// leaves discord_joined and the terminal flags alone.
	prepared.UpsertDerivedFlags = s.Session.Query(`
        UPDATE onboarding_progress SET
            username_claimed = ?, bio_site_visited = ?, social_link_added = ?,
            bio_site_published = ?, content_locked = ?, locker_embedded = ?,
            user_invited = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.SetDiscordJoined = s.Session.Query(`
        UPDATE onboarding_progress SET discord_joined = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.SetCompleted = s.Session.Query(`
        UPDATE onboarding_progress SET onboarding_completed = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.SetDismissed = s.Session.Query(`
        UPDATE onboarding_progress SET onboarding_dismissed = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
