// Package etcd provides etcd client functionality for distributed coordination
// of consolidation cycles across replicas.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/domain"
)

const sessionTTL = 30

// Client wraps an etcd client with leader election and distributed locking.
type Client struct {
	client  *clientv3.Client
	session *concurrency.Session
	logger  *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to etcd: %v", domain.ErrUnavailable, err)
	}

	// Create a session for distributed coordination
	session, err := concurrency.NewSession(client, concurrency.WithTTL(sessionTTL))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to create etcd session: %v", domain.ErrUnavailable, err)
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		client:  client,
		session: session,
		logger:  logger.With(zap.String("component", "etcd")),
	}, nil
}

// Close closes the etcd client and session.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// =============================================================================
// Distributed Locking
// =============================================================================

// Lock blocks until the lock at key is held by this session. The returned
// function releases it.
func (c *Client) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	mutex := concurrency.NewMutex(c.session, key)

	if err := mutex.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	c.logger.Debug("Acquired lock", zap.String("key", key))

	return func(ctx context.Context) error {
		if err := mutex.Unlock(ctx); err != nil {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		c.logger.Debug("Released lock", zap.String("key", key))
		return nil
	}, nil
}

// TryLock is Lock bounded by timeout.
func (c *Client) TryLock(ctx context.Context, key string, timeout time.Duration) (func(context.Context) error, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.Lock(ctx, key)
}

// =============================================================================
// Leader Election
// =============================================================================

// Leader represents a leader election participant.
type Leader struct {
	election *concurrency.Election
	client   *Client
	name     string
	isLeader atomic.Bool
}

// LeaderCallback is called when leadership status changes.
type LeaderCallback func(isLeader bool)

func electionKey(name string) string {
	return fmt.Sprintf("/consolidator/leaders/%s", name)
}

// CampaignForLeader starts a leader election campaign in the background.
// The campaign ends when ctx is done or the session expires.
func (c *Client) CampaignForLeader(ctx context.Context, name, value string, callback LeaderCallback) *Leader {
	leader := &Leader{
		election: concurrency.NewElection(c.session, electionKey(name)),
		client:   c,
		name:     name,
	}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := leader.election.Campaign(ctx, value); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("Leader campaign failed, retrying", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}

			leader.isLeader.Store(true)
			c.logger.Info("Became leader", zap.String("name", name))
			if callback != nil {
				callback(true)
			}

			// Wait until we lose leadership
			select {
			case <-ctx.Done():
			case <-c.session.Done():
				c.logger.Info("Lost leadership", zap.String("name", name))
			}
			leader.isLeader.Store(false)
			if callback != nil {
				callback(false)
			}
			return
		}
	}()

	return leader
}

// IsLeader returns true if this instance is currently the leader.
func (l *Leader) IsLeader() bool {
	return l.isLeader.Load()
}

// Resign resigns from leadership.
func (l *Leader) Resign(ctx context.Context) error {
	if !l.isLeader.Load() {
		return nil
	}

	if err := l.election.Resign(ctx); err != nil {
		return fmt.Errorf("failed to resign: %w", err)
	}

	l.isLeader.Store(false)
	l.client.logger.Info("Resigned from leadership", zap.String("name", l.name))
	return nil
}

// GetLeader returns the current leader's value, or domain.ErrNotFound when
// nobody holds the election.
func (c *Client) GetLeader(ctx context.Context, name string) (string, error) {
	election := concurrency.NewElection(c.session, electionKey(name))

	resp, err := election.Leader(ctx)
	if errors.Is(err, concurrency.ErrElectionNoLeader) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get leader: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return "", domain.ErrNotFound
	}

	return string(resp.Kvs[0].Value), nil
}
