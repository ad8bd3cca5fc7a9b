package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// FileTemplateProvider is an implementation of TemplateProvider that reads
// YAML templates from a directory, one file per template id. It is intended
// for development and tests; production deployments plug in their own
// template storage.
type FileTemplateProvider struct {
	directory string
}

func NewFileTemplateProvider(directory string) *FileTemplateProvider {
	return &FileTemplateProvider{directory: directory}
}

func (p *FileTemplateProvider) GetTemplate(ctx context.Context, templateID, organizationID string) (*WorkflowTemplate, error) {
	path := filepath.Join(p.directory, fmt.Sprintf("%s.yaml", templateID))
	template, err := LoadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewNotFoundError("template %q not found", templateID)
		}
		return nil, err
	}
	if template.ID == "" {
		template.ID = templateID
	}
	return template, nil
}
