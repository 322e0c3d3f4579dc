package command

import (
	"errors"
	"testing"
)

func TestBuildArgvSubstitutesPlaceholders(t *testing.T) {
	argv, err := BuildArgv("/bin/cp", []string{"-v", "{input_file}", "{output_file}"}, "/in/a.txt", "/out/a.txt.copy")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []string{"/bin/cp", "-v", "/in/a.txt", "/out/a.txt.copy"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestBuildArgvReplacesAllOccurrencesInOneToken(t *testing.T) {
	argv, err := BuildArgv("/usr/bin/tool", []string{"--pair={input_file}:{input_file}"}, "/in/x", "/out/x")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if argv[1] != "--pair=/in/x:/in/x" {
		t.Errorf("argv[1] = %q", argv[1])
	}
}

func TestBuildArgvRejectsUnknownPlaceholder(t *testing.T) {
	_, err := BuildArgv("/bin/tool", []string{"{input_file}", "{tmp_dir}"}, "/in/a", "/out/a")
	var tplErr *TemplateError
	if !errors.As(err, &tplErr) {
		t.Fatalf("expected TemplateError, got %v", err)
	}
	if tplErr.Placeholder != "{tmp_dir}" {
		t.Errorf("placeholder = %q, want {tmp_dir}", tplErr.Placeholder)
	}
}

func TestBuildArgvKeepsShellLookingTokensLiteral(t *testing.T) {
	// ">" is not interpreted; it must reach the binary as a plain argument.
	argv, err := BuildArgv("/bin/tool", []string{"{input_file}", ">", "{output_file}"}, "/in/a", "/out/a")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if argv[2] != ">" {
		t.Errorf("argv[2] = %q, want literal >", argv[2])
	}
}

func TestBuildArgvBinaryIsNeverTemplated(t *testing.T) {
	argv, err := BuildArgv("{input_file}", nil, "/in/a", "/out/a")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if argv[0] != "{input_file}" {
		t.Errorf("argv[0] = %q, binary path must pass through verbatim", argv[0])
	}
}

func TestBuildArgvTolerantOfBracesInPaths(t *testing.T) {
	argv, err := BuildArgv("/bin/tool", []string{"{input_file}"}, "/in/{weird}/a", "/out/a")
	if err != nil {
		t.Fatalf("braces inside substituted paths must not fail: %v", err)
	}
	if argv[1] != "/in/{weird}/a" {
		t.Errorf("argv[1] = %q", argv[1])
	}
}
