package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/agentoven/conductor/internal/chat"
	"github.com/agentoven/conductor/internal/plan"
	"github.com/agentoven/conductor/internal/query"
	"github.com/agentoven/conductor/internal/resolver"
	"github.com/agentoven/conductor/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&store.ErrNotFound{Entity: "chat", Key: "x"}, http.StatusNotFound},
		{fmt.Errorf("load: %w", &store.ErrNotFound{Entity: "plan", Key: "y"}), http.StatusNotFound},
		{chat.ErrEmptyPrompt, http.StatusBadRequest},
		{&resolver.UnknownAgentError{Name: "Poet"}, http.StatusBadRequest},
		{&plan.PlanError{Kind: plan.ErrNoStepsParsed}, http.StatusUnprocessableEntity},
		{&plan.PlanError{Kind: plan.ErrAlreadyRunning}, http.StatusConflict},
		{&plan.PlanError{Kind: plan.ErrArchived}, http.StatusConflict},
		{&query.QueryError{Kind: query.ErrTimeout, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&query.QueryError{Kind: query.ErrRejected}, http.StatusBadRequest},
		{&query.QueryError{Kind: query.ErrExecutionFailed}, http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
