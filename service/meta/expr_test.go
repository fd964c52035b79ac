package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvExpr(t *testing.T) {
	testCases := []struct {
		description string
		env         map[string]string
		input       string
		expect      string
	}{
		{description: "no expressions", input: "just a plain string", expect: "just a plain string"},
		{description: "single expression", env: map[string]string{"TG_FOO": "bar"}, input: "value is ${env.TG_FOO}", expect: "value is bar"},
		{description: "multiple expressions", env: map[string]string{"TG_A": "1", "TG_B": "2"}, input: "${env.TG_A}-${env.TG_B}-${env.TG_A}", expect: "1-2-1"},
		{description: "unset variable becomes empty", input: "unset=${env.TG_NOTSET}-end", expect: "unset=-end"},
		{description: "missing closing brace", env: map[string]string{"TG_X": "x"}, input: "start ${env.TG_X and ${env.TG_Y} end", expect: "start ${env.TG_X and  end"},
		{description: "prefix only no key", input: "oops ${env.} done", expect: "oops  done"},
		{description: "unterminated", input: "tail ${env.TG_X", expect: "tail ${env.TG_X"},
		{description: "plain expression", env: map[string]string{"TG_SECRET": "real-secret"}, input: "webhookSecret: ${TG_SECRET}", expect: "webhookSecret: real-secret"},
		{description: "plain and namespaced mixed", env: map[string]string{"TG_A": "1", "TG_B": "2"}, input: "${TG_A}/${env.TG_B}", expect: "1/2"},
		{description: "plain unset becomes empty", input: "secret=${TG_NOTSET}", expect: "secret="},
		{description: "invalid key kept", env: map[string]string{"TG_A": "1"}, input: "${not a key} ${TG_A}", expect: "${not a key} 1"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			t.Setenv("TG_NOTSET", "")
			t.Setenv("TG_Y", "")
			for k, v := range testCase.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, testCase.expect, expandEnvExpr(testCase.input))
		})
	}
}
