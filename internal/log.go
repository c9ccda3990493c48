// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package internal

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// CloseAndLogIfError closes the closer and logs the message if closing
// failed. Intended for deferred rows.Close() calls.
func CloseAndLogIfError(ctx context.Context, closer io.Closer, message string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logrus.WithContext(ctx).WithError(err).Error(message)
	}
}
