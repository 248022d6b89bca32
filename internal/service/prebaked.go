package service

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed prebaked/*.yaml prebaked/*.json
var prebakedFS embed.FS

const systemUser = "system"

// prebakedGroup is one entry of the embedded manifest.
type prebakedGroup struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Function    string `yaml:"function"`
	Handler     string `yaml:"handler"`
	Schema      string `yaml:"schema"`
}

func loadPrebaked() ([]prebakedGroup, error) {
	raw, err := prebakedFS.ReadFile("prebaked/manifest.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read prebaked manifest: %w", err)
	}
	var groups []prebakedGroup
	if err := yaml.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse prebaked manifest: %w", err)
	}
	return groups, nil
}

// ensurePrebaked installs the system action groups once per process.
// Concurrent callers share one installation.
func (s *ActionGroupService) ensurePrebaked(ctx context.Context) error {
	if s.installed.Load() {
		return nil
	}
	_, err, _ := s.install.Do("prebaked", func() (any, error) {
		if s.installed.Load() {
			return nil, nil
		}
		if err := s.installPrebaked(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		s.installed.Store(true)
		return nil, nil
	})
	return err
}

func (s *ActionGroupService) installPrebaked(ctx context.Context) error {
	manifest, err := loadPrebaked()
	if err != nil {
		return err
	}
	existing, err := s.actionGroupRepo.ListSystemGenerated(ctx)
	if err != nil {
		return fmt.Errorf("failed to list system action groups: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, ag := range existing {
		have[ag.Name] = true
	}

	for _, p := range manifest {
		if have[p.Name] {
			continue
		}
		// viper lower-cases map keys
		handle := s.aws.PrebakedFunctionArns[strings.ToLower(p.Name)]
		if handle == "" {
			log.Warn().Str("action_group", p.Name).Msg("no function configured for system action group")
			continue
		}
		schema, err := prebakedFS.ReadFile(path.Join("prebaked", p.Schema))
		if err != nil {
			return fmt.Errorf("failed to read schema of %s: %w", p.Name, err)
		}

		id := uuid.NewString()
		now := s.now().UTC()
		ag := &domain.ActionGroup{
			ID:              id,
			Name:            p.Name,
			Description:     p.Description,
			Handler:         p.Handler,
			FunctionName:    p.Function,
			SchemaKey:       domain.SchemaKey(id),
			Libraries:       []string{},
			Status:          domain.ActionGroupReady,
			FunctionHandle:  handle,
			SystemGenerated: true,
			CreatedBy:       systemUser,
			CreatedAt:       now,
			LastModifiedBy:  systemUser,
			LastModifiedAt:  now,
		}
		if err := s.objects.Put(ctx, s.aws.MiscBucket, ag.SchemaKey, bytes.NewReader(schema), contentTypeJSON); err != nil {
			return fmt.Errorf("failed to store schema of %s: %w", p.Name, err)
		}
		if err := s.actionGroupRepo.Create(ctx, ag); err != nil {
			if domain.IsKind(err, domain.KindConflict) {
				continue
			}
			return fmt.Errorf("failed to create %s: %w", p.Name, err)
		}
		log.Info().Str("action_group", p.Name).Str("action_group_id", id).Msg("system action group installed")
	}
	return nil
}
