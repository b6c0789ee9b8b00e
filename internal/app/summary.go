package app

import (
	"context"

	"skillatlas/internal/registry"
)

type Counts struct {
	InstalledTotal int `json:"installedTotal"`
	InstalledTop   int `json:"installedTop"`
	MissingTop     int `json:"missingTop"`
}

// Summary overlays install status on a registry listing.
type Summary struct {
	View      string           `json:"view"`
	Limit     int              `json:"limit"`
	Skills    []map[string]any `json:"skills"`
	Installed []string         `json:"installed"`
	Counts    Counts           `json:"counts"`
}

func (s *Service) Summary(ctx context.Context, view string, limit int) (Summary, error) {
	view = registry.NormalizeView(view)
	if view == "" {
		view = "all-time"
	}
	if limit <= 0 {
		limit = 80
	}
	skills, err := s.Registry.FetchSkills(ctx, view, limit)
	if err != nil {
		return Summary{}, err
	}
	installed, err := s.ListInstalled()
	if err != nil {
		return Summary{}, err
	}
	return overlay(view, limit, skills, installed), nil
}

func overlay(view string, limit int, skills []registry.Skill, installed []string) Summary {
	have := make(map[string]struct{}, len(installed))
	for _, name := range installed {
		have[name] = struct{}{}
	}
	out := Summary{View: view, Limit: limit, Skills: make([]map[string]any, 0, len(skills)), Installed: installed}
	for _, sk := range skills {
		item := sk.Fields()
		if _, ok := have[sk.ID]; ok && sk.ID != "" {
			item["status"] = "installed"
			out.Counts.InstalledTop++
		} else {
			item["status"] = "missing"
		}
		out.Skills = append(out.Skills, item)
	}
	out.Counts.InstalledTotal = len(installed)
	out.Counts.MissingTop = len(out.Skills) - out.Counts.InstalledTop
	return out
}
