package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CharacterConfig declares the character a participant plays.
type CharacterConfig struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Aliases []string `yaml:"aliases"`
}

// ParticipantConfig declares one person at the table.
type ParticipantConfig struct {
	DisplayName    string           `yaml:"display_name"`
	Role           string           `yaml:"role"`
	SpeakerAliases []string         `yaml:"speaker_aliases"`
	Character      *CharacterConfig `yaml:"character"`
}

// CampaignConfig is the optional per-campaign roster file at
// campaigns/<slug>/campaign.yaml.
type CampaignConfig struct {
	Name         string              `yaml:"name"`
	System       string              `yaml:"system"`
	Participants []ParticipantConfig `yaml:"participants"`
}

// CampaignConfigPath returns the config path for a campaign slug.
func CampaignConfigPath(root, campaignSlug string) string {
	return filepath.Join(root, "campaigns", campaignSlug, "campaign.yaml")
}

// LoadCampaign reads the campaign config. A missing file is not an error;
// it returns nil.
func LoadCampaign(root, campaignSlug string) (*CampaignConfig, error) {
	data, err := os.ReadFile(CampaignConfigPath(root, campaignSlug))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign config: %w", err)
	}
	var cfg CampaignConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse campaign config: %w", err)
	}
	for i := range cfg.Participants {
		cfg.Participants[i].DisplayName = strings.TrimSpace(cfg.Participants[i].DisplayName)
		if cfg.Participants[i].Character != nil && cfg.Participants[i].Character.Kind == "" {
			cfg.Participants[i].Character.Kind = "pc"
		}
	}
	return &cfg, nil
}

// SpeakerAliasMap maps raw transcript speaker labels to participant
// display names. Display names map to themselves.
func (c *CampaignConfig) SpeakerAliasMap() map[string]string {
	out := make(map[string]string)
	if c == nil {
		return out
	}
	for _, p := range c.Participants {
		if p.DisplayName == "" {
			continue
		}
		out[p.DisplayName] = p.DisplayName
		for _, alias := range p.SpeakerAliases {
			out[alias] = p.DisplayName
		}
	}
	return out
}

// CharacterMap maps participant display names to the character they play.
func (c *CampaignConfig) CharacterMap() map[string]string {
	out := make(map[string]string)
	if c == nil {
		return out
	}
	for _, p := range c.Participants {
		if p.Character != nil && p.DisplayName != "" {
			out[p.DisplayName] = p.Character.Name
		}
	}
	return out
}
