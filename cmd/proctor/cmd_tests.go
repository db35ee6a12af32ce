package main

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/proctor/internal/config"
	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/testmap"
)

// cmdTests inspects test definitions
func cmdTests(args []string) error {
	if len(args) < 1 {
		fmt.Println(`Test commands:

  proctor tests list             List tests in the tests directory
  proctor tests validate <file>  Check a test definition file
  proctor tests stats <id>       Show the structure of a test`)
		return nil
	}

	switch args[0] {
	case "list":
		return cmdTestsList()
	case "validate":
		if len(args) < 2 {
			return fmt.Errorf("test definition file required")
		}
		return cmdTestsValidate(args[1])
	case "stats":
		if len(args) < 2 {
			return fmt.Errorf("test ID required")
		}
		return cmdTestsStats(args[1])
	default:
		return fmt.Errorf("unknown tests command: %s (valid: list, validate, stats)", args[0])
	}
}

func testsProvider() (*testmap.DirProvider, error) {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return testmap.NewDirProvider(cfg.TestsDir), nil
}

func cmdTestsList() error {
	maps, err := testsProvider()
	if err != nil {
		return err
	}
	ids, err := maps.List()
	if err != nil {
		return fmt.Errorf("list tests: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No tests found.")
		return nil
	}

	fmt.Println("Available Tests:")
	for _, id := range ids {
		m, err := maps.Get(context.Background(), id)
		if err != nil {
			fmt.Printf("  %-24s ✗ %v\n", id, err)
			continue
		}
		st := m.Stats()
		fmt.Printf("  %-24s %d part(s), %d section(s), %d item(s)\n", id, st.Parts, st.Sections, st.Items)
	}
	return nil
}

func cmdTestsValidate(path string) error {
	m, err := testmap.LoadFile(path)
	if err != nil {
		return err
	}
	st := m.Stats()
	fmt.Printf("%s: valid (%d parts, %d sections, %d items)\n", m.ID, st.Parts, st.Sections, st.Items)
	return nil
}

func cmdTestsStats(id string) error {
	maps, err := testsProvider()
	if err != nil {
		return err
	}
	m, err := maps.Get(context.Background(), id)
	if err != nil {
		return err
	}

	fmt.Printf("Test %s\n", m.ID)
	fmt.Println("==========")
	for _, p := range m.Parts {
		mode := "nonlinear"
		if p.Linear {
			mode = "linear"
		}
		fmt.Printf("Part %s (%s)\n", p.ID, mode)
		for _, sec := range p.Sections {
			fmt.Printf("  Section %-12s %2d item(s)%s\n", sec.ID, len(sec.Items), sectionFlags(&sec))
		}
	}
	return nil
}

func sectionFlags(sec *domain.Section) string {
	flags := ""
	if sec.Timer.IsSectionMax() {
		flags += fmt.Sprintf(", timed %s", sec.Timer.Max)
	}
	if sec.Adaptive {
		flags += ", adaptive"
	}
	if len(sec.BranchRules) > 0 {
		flags += fmt.Sprintf(", %d branch rule(s)", len(sec.BranchRules))
	}
	return flags
}
