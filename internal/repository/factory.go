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

import "fmt"

// StorageConfig is the ambient configuration needed to open a Repository.
type StorageConfig struct {
	Type     string // sqlite | postgres | mysql
	DSN      string
	Pool     *ConnectionPoolConfig
}

// New opens and migrates a Repository for the given storage config. It is
// the single construction path - unlike the teacher's factory.go, which
// offered raw database/sql constructors alongside the GORM ones but was
// itself never called from main, this one has exactly one backend per
// dialect (see DESIGN.md).
func New(cfg StorageConfig) (Repository, error) {
	if cfg.Type == "" {
		cfg.Type = "sqlite"
	}
	repo, err := NewGormRepositoryWithPool(cfg.Type, cfg.DSN, cfg.Pool)
	if err != nil {
		return nil, fmt.Errorf("repository: new %s: %w", cfg.Type, err)
	}
	return repo, nil
}
