// Copyright 2025 UMH Systems GmbH
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

package backoff

import (
	"context"
	"time"

	cbackoff "github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// Policy configures Retry.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultPolicy is used by the config sources for file reads.
func DefaultPolicy(maxRetries uint64) Policy {
	return Policy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxRetries:      maxRetries,
	}
}

// Retry runs op until it succeeds, returns a permanent or ignored error, the
// retries are used up, or ctx is done. Ignored errors are reported as success.
func Retry(ctx context.Context, policy Policy, op func() error, log *zap.SugaredLogger) error {
	exp := cbackoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.MaxElapsedTime = 0

	b := cbackoff.WithContext(cbackoff.WithMaxRetries(exp, policy.MaxRetries), ctx)

	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return cbackoff.Permanent(err)
		}

		err := CategorizeError(op())

		switch {
		case err == nil:
			return nil
		case IsIgnoredError(err):
			if log != nil {
				log.Debugf("Ignoring error: %v", err)
			}

			return nil
		case IsPermanentError(err):
			return cbackoff.Permanent(err)
		default:
			return err
		}
	}

	notify := func(err error, next time.Duration) {
		if log != nil {
			log.Debugf("Attempt failed, retrying in %s: %v", next, err)
		}
	}

	return cbackoff.RetryNotify(attempt, b, notify)
}
