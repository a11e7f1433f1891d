/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package repository

import "errors"

// ErrNotFound is returned by single-entity lookups when nothing matches.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict is returned on optimistic-concurrency or idempotency
// violations, e.g. TriggerRecovery racing itself.
var ErrConflict = errors.New("repository: conflict")
