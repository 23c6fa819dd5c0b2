package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGate/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testConfig() Config {
	return Config{QueueSize: 4, Workers: 1, SendTimeout: time.Second, Retries: 1}
}

func waitStats(t *testing.T, o *Outbox, sent, failed uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, f := o.Stats()
		return s == sent && f == failed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOutboxDeliversMail(t *testing.T) {
	ctrl := gomock.NewController(t)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().
		SendMail(gomock.Any(), "alice@example.com", "Subject", "Body").
		Return(nil)

	o := NewOutbox(testConfig(), mailer, nil, nil)
	defer o.Close()

	require.NoError(t, o.EnqueueMail(context.Background(), "alice@example.com", "Subject", "Body"))
	waitStats(t, o, 1, 0)
}

func TestOutboxRetriesThenFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().
		SendMail(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("relay down")).
		Times(2)

	var mu sync.Mutex
	failures := 0
	o := NewOutbox(testConfig(), mailer, nil, nil)
	o.OnFailure = func() {
		mu.Lock()
		failures++
		mu.Unlock()
	}
	defer o.Close()

	require.NoError(t, o.EnqueueMail(context.Background(), "bob@example.com", "s", "b"))
	waitStats(t, o, 0, 1)
	mu.Lock()
	assert.Equal(t, 1, failures)
	mu.Unlock()
}

func TestOutboxSMSNon2xxCountsAsFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockSMSGateway(ctrl)
	gw.EXPECT().SendSMS(gomock.Any(), "+15550100", "code 123456").Return(502, nil).Times(2)

	o := NewOutbox(testConfig(), nil, gw, nil)
	defer o.Close()

	require.NoError(t, o.EnqueueSMS(context.Background(), "+15550100", "code 123456"))
	waitStats(t, o, 0, 1)
}

func TestOutboxSMSSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockSMSGateway(ctrl)
	gw.EXPECT().SendSMS(gomock.Any(), "+15550100", gomock.Any()).Return(200, nil)

	o := NewOutbox(testConfig(), nil, gw, nil)
	defer o.Close()

	require.NoError(t, o.EnqueueSMS(context.Background(), "+15550100", "hi"))
	waitStats(t, o, 1, 0)
}

func TestOutboxRejectsUnconfiguredChannel(t *testing.T) {
	o := NewOutbox(testConfig(), nil, nil, nil)
	defer o.Close()

	assert.ErrorIs(t, o.EnqueueMail(context.Background(), "a@example.com", "s", "b"), ErrNotConfigured)
	assert.ErrorIs(t, o.EnqueueSMS(context.Background(), "+1", "b"), ErrNotConfigured)

	var nilOutbox *Outbox
	assert.ErrorIs(t, nilOutbox.EnqueueMail(context.Background(), "a@example.com", "s", "b"), ErrNotConfigured)
}

func TestOutboxRejectsMissingRecipient(t *testing.T) {
	ctrl := gomock.NewController(t)
	o := NewOutbox(testConfig(), mocks.NewMockMailer(ctrl), nil, nil)
	defer o.Close()

	assert.ErrorIs(t, o.EnqueueMail(context.Background(), "", "s", "b"), ErrNoRecipient)
}

func TestOutboxClosedRejectsAndDrains(t *testing.T) {
	ctrl := gomock.NewController(t)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().SendMail(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)

	o := NewOutbox(testConfig(), mailer, nil, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, o.EnqueueMail(context.Background(), "a@example.com", "s", "b"))
	}
	o.Close()
	o.Close()

	sent, failed := o.Stats()
	assert.Equal(t, uint64(3), sent)
	assert.Zero(t, failed)
	assert.ErrorIs(t, o.EnqueueMail(context.Background(), "a@example.com", "s", "b"), ErrClosed)
}

func TestOutboxCloseDeliversEveryAcceptedMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().SendMail(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	cfg := testConfig()
	cfg.QueueSize = 512
	cfg.Workers = 2
	o := NewOutbox(cfg, mailer, nil, nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted uint64
	)
	start := make(chan struct{})
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 50; i++ {
				err := o.EnqueueMail(context.Background(), "a@example.com", "s", "b")
				if err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
					continue
				}
				assert.ErrorIs(t, err, ErrClosed)
			}
		}()
	}
	close(start)
	o.Close()
	wg.Wait()

	sent, failed := o.Stats()
	assert.Equal(t, accepted, sent+failed)
}

func TestOutboxQueueFull(t *testing.T) {
	ctrl := gomock.NewController(t)
	mailer := mocks.NewMockMailer(ctrl)

	release := make(chan struct{})
	mailer.EXPECT().
		SendMail(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, string, string) error {
			<-release
			return nil
		}).
		AnyTimes()

	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.SendTimeout = 5 * time.Second
	o := NewOutbox(cfg, mailer, nil, nil)
	defer func() {
		close(release)
		o.Close()
	}()

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = o.EnqueueMail(context.Background(), "a@example.com", "s", "b")
	}
	assert.ErrorIs(t, err, ErrQueueFull)
}
