// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/poiesic/docsim/core"
)

// permanent lists failures that a retry cannot fix.
var permanent = []error{
	core.ErrDimensionMismatch,
	core.ErrInvalidVector,
	core.ErrConfiguration,
	context.Canceled,
	context.DeadlineExceeded,
}

// IsPermanent reports whether err will recur no matter how often the
// operation is retried.
func IsPermanent(err error) bool {
	for _, target := range permanent {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// newBackOff doubles baseDelay between attempts and stops after maxAttempts
// attempts or when ctx is done.
func newBackOff(ctx context.Context, maxAttempts int, baseDelay time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = max(b.MaxInterval, baseDelay)
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
}

// RetryWithBackoff runs operation up to maxAttempts times, sleeping
// baseDelay, then twice that, and so on between attempts. Permanent errors
// end the loop early. The error of the last attempt is returned.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := operation()
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, newBackOff(ctx, maxAttempts, baseDelay), func(err error, delay time.Duration) {
		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "delay", delay, "err", err)
	})
	if err == nil && attempt > 1 {
		slog.Debug("operation succeeded after retry", "attempt", attempt)
	}
	return err
}
