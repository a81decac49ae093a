package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/niiniyare/abacgate/pkg/abac"
	"github.com/niiniyare/abacgate/pkg/compute"
	"github.com/niiniyare/abacgate/pkg/engine"
	sdkerrors "github.com/niiniyare/abacgate/pkg/errors"
	"github.com/niiniyare/abacgate/pkg/kernel"
	"github.com/niiniyare/abacgate/pkg/query"
	"github.com/niiniyare/abacgate/pkg/shared"
	"github.com/niiniyare/abacgate/pkg/storage"
)

var identityDefs = []abac.IdentityDefinition{
	{IdentityType: "User", Schema: map[string]any{
		"type": "object", "required": []any{"id"},
		"properties": map[string]any{"id": map[string]any{"type": "string"}},
	}},
}

var resourceDefs = []abac.ResourceDefinition{
	{
		ResourceType: "Balloon",
		Actions:      []string{"Balloon:Read", "Balloon:Inflate"},
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"color": map[string]any{"type": "string"}},
		},
	},
}

// EngineSuite covers the end-to-end scenarios from the test-property catalogue: allow-only
// match, deny overrides, action mismatch, non-critical and critical query failures, and
// multi-page audit enumeration.
type EngineSuite struct {
	suite.Suite
	eval *query.Evaluator
	eng  *engine.Engine
}

func (s *EngineSuite) newEngine() *engine.Engine {
	store := storage.NewMemory()
	matcher := kernel.NewMatcher(s.eval, nil)
	comp := compute.NewReference(store, matcher, compute.ReferenceOptions{GrantsPageSize: 50})
	eng := engine.New(engine.Config{
		IdentityDefs: identityDefs,
		ResourceDefs: resourceDefs,
		Storage:      store,
		Compute:      comp,
	})
	require.NoError(s.T(), eng.Start(context.Background()))
	return eng
}

func (s *EngineSuite) SetupTest() {
	eval, err := query.NewEvaluator(query.Options{})
	require.NoError(s.T(), err)
	s.eval = eval
	s.eng = s.newEngine()
}

func (s *EngineSuite) TearDownTest() {
	s.eval.Close()
}

func (s *EngineSuite) TestS1_AllowOnlyMatch() {
	ctx := context.Background()
	_, err := s.eng.Enact(ctx, abac.Grant{
		Name: "inflate-green", Effect: abac.EffectAllow, Actions: []string{"Balloon:Inflate"},
		Query: `resource.color == "green"`, Equality: true,
	})
	require.NoError(s.T(), err)

	decision, err := s.eng.Authorize(ctx, abac.Request{
		Action: "Balloon:Inflate", ResourceType: "Balloon", Resource: map[string]any{"color": "green"},
	}, engine.DecisionOptions{})
	require.NoError(s.T(), err)
	s.True(decision.Authorized)
	s.Equal(abac.EffectAllow, decision.Grant.Effect)
}

func (s *EngineSuite) TestS2_DenyOverrides() {
	ctx := context.Background()
	_, err := s.eng.Enact(ctx, abac.Grant{
		Name: "inflate-green", Effect: abac.EffectAllow, Actions: []string{"Balloon:Inflate"},
		Query: `resource.color == "green"`, Equality: true,
	})
	require.NoError(s.T(), err)
	_, err = s.eng.Enact(ctx, abac.Grant{
		Name: "lockdown", Effect: abac.EffectDeny, Query: "true", Equality: true,
	})
	require.NoError(s.T(), err)

	decision, err := s.eng.Authorize(ctx, abac.Request{
		Action: "Balloon:Inflate", ResourceType: "Balloon", Resource: map[string]any{"color": "green"},
	}, engine.DecisionOptions{})
	require.NoError(s.T(), err)
	s.False(decision.Authorized)
	s.Equal(abac.EffectDeny, decision.Grant.Effect)
}

func (s *EngineSuite) TestS3_ActionMismatch() {
	ctx := context.Background()
	_, err := s.eng.Enact(ctx, abac.Grant{
		Name: "inflate-green", Effect: abac.EffectAllow, Actions: []string{"Balloon:Inflate"},
		Query: `resource.color == "green"`, Equality: true,
	})
	require.NoError(s.T(), err)

	decision, err := s.eng.Authorize(ctx, abac.Request{
		Action: "Balloon:Read", ResourceType: "Balloon", Resource: map[string]any{"color": "green"},
	}, engine.DecisionOptions{})
	require.NoError(s.T(), err)
	s.False(decision.Authorized)
	s.Nil(decision.Grant)
}

func (s *EngineSuite) TestS4_NonCriticalQueryFailure() {
	ctx := context.Background()
	_, err := s.eng.Enact(ctx, abac.Grant{
		Name: "broken", Effect: abac.EffectAllow,
		Query: "nosuchfunc(resource)", QueryValidation: abac.QueryValidationValidate,
	})
	require.NoError(s.T(), err)

	decision, err := s.eng.Authorize(ctx, abac.Request{
		Action: "Balloon:Read", ResourceType: "Balloon", Resource: map[string]any{"color": "green"},
	}, engine.DecisionOptions{})
	require.NoError(s.T(), err)
	s.False(decision.Authorized)
	s.True(decision.Completed)
	s.Len(decision.Errors.JMESPath, 1)
	s.False(decision.Errors.JMESPath[0].Critical)
}

func (s *EngineSuite) TestS5_CriticalQueryFailure() {
	ctx := context.Background()
	_, err := s.eng.Enact(ctx, abac.Grant{
		Name: "broken", Effect: abac.EffectAllow,
		Query: "nosuchfunc(resource)", QueryValidation: abac.QueryValidationError,
	})
	require.NoError(s.T(), err)

	decision, err := s.eng.Authorize(ctx, abac.Request{
		Action: "Balloon:Read", ResourceType: "Balloon", Resource: map[string]any{"color": "green"},
	}, engine.DecisionOptions{})
	require.Error(s.T(), err)
	var specErr *sdkerrors.SpecificationError
	s.ErrorAs(err, &specErr)
	s.Equal(sdkerrors.KindJMESPath, specErr.Kind)
	s.False(decision.Completed)
	s.Len(decision.Errors.JMESPath, 1)
	s.True(decision.Errors.JMESPath[0].Critical)
}

func (s *EngineSuite) TestS6_Pagination() {
	ctx := context.Background()
	for i := 0; i < 250; i++ {
		_, err := s.eng.Enact(ctx, abac.Grant{
			Name: "allow-n", Effect: abac.EffectAllow, Actions: []string{"Balloon:Read"},
			Query: "true", Equality: true,
		})
		require.NoError(s.T(), err)
	}

	req := abac.Request{
		Action: "Balloon:Read", ResourceType: "Balloon", Resource: map[string]any{"color": "red"},
	}
	decision, err := s.eng.Authorize(ctx, req, engine.DecisionOptions{})
	require.NoError(s.T(), err)
	s.True(decision.Authorized)

	size := 50
	var pageRef abac.PageRef
	total := 0
	slabs := 0
	for {
		result, err := s.eng.AuditPage(ctx, req, pageRef, engine.DecisionOptions{GrantsPageSize: &size})
		require.NoError(s.T(), err)
		total += len(result.Grants)
		slabs++
		if result.NextPageRef == nil {
			break
		}
		pageRef = *result.NextPageRef
	}
	s.Equal(250, total)
	s.Equal(5, slabs)
}

// remoteCompute stands in for a compute deployed on another host: NETWORK locality, so pairing
// it with in-process storage must be rejected at Start.
type remoteCompute struct{}

func (remoteCompute) Authorize(context.Context, abac.Request) (abac.Decision, error) {
	return abac.Decision{}, nil
}

func (remoteCompute) AuditPage(context.Context, abac.Request, abac.PageRef) (abac.AuditResult, error) {
	return abac.AuditResult{}, nil
}

func (remoteCompute) Locality() abac.ModuleLocality { return abac.LocalityNetwork }

func (s *EngineSuite) TestLocalityIncompatibility() {
	store := storage.NewMemory() // PROCESS locality
	eng := engine.New(engine.Config{
		IdentityDefs: identityDefs, ResourceDefs: resourceDefs,
		Storage: store, Compute: remoteCompute{},
	})

	err := eng.Start(context.Background())
	require.Error(s.T(), err)
	s.True(sdkerrors.IsSDKError(err, sdkerrors.CodeLocalityIncompatibility))
	s.Equal(engine.StateCreated, eng.State(), "a failed Start leaves the engine restartable")
}

func (s *EngineSuite) TestCallerIdentitiesFromContext() {
	ctx := context.Background()
	_, err := s.eng.Enact(ctx, abac.Grant{
		Name: "self-service", Effect: abac.EffectAllow, Actions: []string{"Balloon:Inflate"},
		Query: `identities.User[0].id == "alice"`, Equality: true,
	})
	require.NoError(s.T(), err)

	callerCtx := shared.WithCallerIdentities(ctx, map[string][]abac.JSON{
		"User": {map[string]any{"id": "alice"}},
	})

	decision, err := s.eng.Authorize(callerCtx, abac.Request{
		Action: "Balloon:Inflate", ResourceType: "Balloon", Resource: map[string]any{"color": "green"},
	}, engine.DecisionOptions{})
	require.NoError(s.T(), err)
	s.True(decision.Authorized, "identities attached to the context back the request")
}

func (s *EngineSuite) TestParallelPagingOverridePerCall() {
	ctx := context.Background()
	_, err := s.eng.Enact(ctx, abac.Grant{
		Name: "inflate-green", Effect: abac.EffectAllow, Actions: []string{"Balloon:Inflate"},
		Query: `resource.color == "green"`, Equality: true,
	})
	require.NoError(s.T(), err)

	parallel := true
	size := 10
	decision, err := s.eng.Authorize(ctx, abac.Request{
		Action: "Balloon:Inflate", ResourceType: "Balloon", Resource: map[string]any{"color": "green"},
	}, engine.DecisionOptions{ParallelPaging: &parallel, GrantsPageSize: &size, RefsPageSize: &size})
	require.NoError(s.T(), err)
	s.True(decision.Authorized)
}

func (s *EngineSuite) TestEnact_RejectsUndeclaredAction() {
	ctx := context.Background()
	_, err := s.eng.Enact(ctx, abac.Grant{
		Name: "bad", Effect: abac.EffectAllow, Actions: []string{"Balloon:Explode"}, Query: "true",
	})
	require.Error(s.T(), err)
	var specErr *sdkerrors.SpecificationError
	s.ErrorAs(err, &specErr)
	s.Equal(sdkerrors.KindGrant, specErr.Kind)
}

func (s *EngineSuite) TestOperationsBeforeStartFail() {
	store := storage.NewMemory()
	matcher := kernel.NewMatcher(s.eval, nil)
	comp := compute.NewReference(store, matcher, compute.ReferenceOptions{})
	eng := engine.New(engine.Config{IdentityDefs: identityDefs, ResourceDefs: resourceDefs, Storage: store, Compute: comp})

	_, err := eng.GetGrant(context.Background(), "whatever")
	require.Error(s.T(), err)
	s.True(sdkerrors.IsSDKError(err, sdkerrors.CodeStartError))
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}
