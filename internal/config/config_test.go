package config

import (
	"strings"
	"testing"
)

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  addr: ":9999"
defaults:
  stages:
    - name: Todo
    - name: Doing
      wip_limit: 3
      wip_limit_type: strict
    - name: Shipped
      is_done: true
webhooks:
  - url: https://example.com/hook
    types: [task.approved]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr %q", cfg.Server.Addr)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("base path default lost: %q", cfg.Server.BasePath)
	}
	if len(cfg.Defaults.Stages) != 3 || !cfg.Defaults.Stages[2].IsDone {
		t.Fatalf("stages not overridden: %+v", cfg.Defaults.Stages)
	}
	if cfg.Defaults.Stages[1].WipLimit == nil || *cfg.Defaults.Stages[1].WipLimit != 3 {
		t.Fatalf("wip limit not parsed")
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].Types[0] != "task.approved" {
		t.Fatalf("webhooks not parsed: %+v", cfg.Webhooks)
	}
}

func TestValidateRejectsBadWorkflow(t *testing.T) {
	_, err := FromYAML([]byte(`
defaults:
  stages:
    - name: Only Open
`))
	if err == nil || !strings.Contains(err.Error(), "done stage") {
		t.Fatalf("missing done stage accepted: %v", err)
	}

	_, err = FromYAML([]byte(`
defaults:
  stages:
    - name: Doing
      wip_limit_type: hard
    - name: Done
      is_done: true
`))
	if err == nil || !strings.Contains(err.Error(), "wip_limit_type") {
		t.Fatalf("bad wip type accepted: %v", err)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Defaults.Stages) == 0 {
		t.Fatalf("defaults missing")
	}
}
