package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/clock"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/credential"
)

const (
	bootstrapInitialWait = 5 * time.Second
	bootstrapFallback    = 30 * time.Second
)

// newBootstrapBackOff spaces out store re-checks while nobody has
// authorized the bot account yet.
func newBootstrapBackOff(maxWait time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = bootstrapInitialWait
	b.MaxInterval = nonZeroDuration(maxWait, 5*time.Minute)
	b.Reset()
	return b
}

// waitForBotCredential blocks until the bot account has a usable stored
// credential. Between store checks it waits for whichever comes first: the
// privileged credential being published by the OAuth callback, an operator
// signal, or the next backoff interval.
func waitForBotCredential(
	ctx context.Context,
	log Logger,
	privileged *credential.Privileged,
	authURL string,
	operator <-chan struct{},
	c clock.Clock,
	b backoff.BackOff,
) (credential.Credential, error) {
	b.Reset()
	for attempt := 1; ; attempt++ {
		cred, err := privileged.Current(ctx)
		if err == nil {
			return cred, nil
		}
		if ctx.Err() != nil {
			return credential.Credential{}, ctx.Err()
		}

		next := b.NextBackOff()
		if next == backoff.Stop || next <= 0 {
			next = bootstrapFallback
		}
		if errors.Is(err, credential.ErrNotFound) {
			log.Warn("bootstrap.bot.unauthorized",
				"login", privileged.Login(),
				"auth_url", authURL,
				"attempt", attempt,
				"recheck_in", next.String(),
			)
		} else {
			log.Error("bootstrap.bot.load_failed", "login", privileged.Login(), "attempt", attempt, "err", err)
		}

		select {
		case <-ctx.Done():
			return credential.Credential{}, fmt.Errorf("waiting for bot credential: %w", ctx.Err())
		case <-privileged.Ready():
		case <-operator:
			log.Info("bootstrap.operator.signal")
		case <-c.After(next):
		}
	}
}

// operatorSignals emits one signal per line read from r. Operators press
// enter after authorizing in a browser to skip the remaining wait.
func operatorSignals(ctx context.Context, r io.Reader) <-chan struct{} {
	out := make(chan struct{}, 1)
	if r == nil {
		return out
	}
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- struct{}{}:
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
	return out
}
