// Copyright 2025 Tom Barlow
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

package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of filesystem events editors emit when
// saving a file.
const reloadDebounce = 100 * time.Millisecond

// watchWorkflowFile hot-reloads the workflow config file. The watch is on
// the containing directory because many editors replace files by rename,
// which drops a watch placed on the file itself.
func (d *Daemon) watchWorkflowFile(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(d.cfg.WorkflowFile)
	if err != nil {
		return fmt.Errorf("failed to resolve workflow file path: %w", err)
	}

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch workflow file directory: %w", err)
	}

	d.logger.Info("watching workflow file for changes", "path", target)

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(reloadDebounce)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil

			d.logger.Info("workflow file changed, reloading")
			if err := d.loadWorkflowFile(); err != nil {
				// A half-written or invalid file must not take the
				// daemon down; the previous config stays active.
				d.logger.Error("workflow file reload failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("workflow file watcher error", "error", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
