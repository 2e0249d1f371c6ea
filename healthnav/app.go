// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package healthnav

import (
	"context"
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"

	"github.com/healthnav/healthnav/agent"
	"github.com/healthnav/healthnav/model"
	"github.com/healthnav/healthnav/tool"
	"github.com/healthnav/healthnav/types"
)

// AppName identifies the application in session and memory storage.
const AppName = "healthnav"

// Intent names of the router's registry.
const (
	IntentTravel       = "travel_advice"
	IntentChronic      = "chronic_care"
	IntentMisinfo      = "misinformation_check"
	IntentPrescription = "prescription_explainer"
)

// Output keys written by the pipelines.
const (
	KeyTravelIntentSummary = "travel_intent_summary"
	KeyCDCWHOTravelSummary = "cdc_who_travel_summary"
	KeyTuGoTravelSummary   = "tugo_travel_summary"
	KeyTravelFinalAnswer   = "travel_final_answer"

	KeyChronicPlan         = "chronic_plan"
	KeyHospitalSuggestions = "hospital_suggestions"
	KeyChronicFinalAnswer  = "chronic_final_answer"

	KeyPrescriptionExplanation = "prescription_explanation"
)

// Config holds everything the application assembly needs. Zero-value fields
// fall back to environment-driven defaults where one exists.
type Config struct {
	// GeminiAPIKey authenticates the Gemini backend. Ignored when Model is
	// set.
	GeminiAPIKey string

	// AnthropicAPIKey authenticates the Claude backend, used when ModelName
	// names a claude-* model. Ignored when Model is set.
	AnthropicAPIKey string

	// ModelName selects the backend and model: claude-* names run on
	// Anthropic, everything else on Gemini, defaulting to
	// [model.GeminiDefaultModel].
	ModelName string

	// Model overrides the generative backend, used by tests and dry runs.
	Model types.Model

	// SearchAPIKey and HealthSearchEngineID configure the cdc.gov/who.int
	// restricted search.
	SearchAPIKey         string
	HealthSearchEngineID string

	// WebSearchEngineID configures the open-web search engine.
	WebSearchEngineID string

	// HealthSearch and WebSearch override the search backends.
	HealthSearch SearchClient
	WebSearch    SearchClient

	// TuGoAPIKey authenticates the travel advisory API.
	TuGoAPIKey string
}

// App is the assembled health navigator.
type App struct {
	// Root is the router; every turn enters here.
	Root types.Agent
}

// New assembles the health navigator: four specialist workflows behind a
// router with an explicit intent registry.
func New(ctx context.Context, cfg Config) (*App, error) {
	m := cfg.Model
	if m == nil {
		var err error
		m, err = model.New(ctx, cfg.ModelName, model.BackendConfig{
			GeminiAPIKey:    cfg.GeminiAPIKey,
			AnthropicAPIKey: cfg.AnthropicAPIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("healthnav: %w", err)
		}
	}

	healthSearch := cfg.HealthSearch
	if healthSearch == nil {
		healthSearch = NewCustomSearchClient(cfg.SearchAPIKey, cfg.HealthSearchEngineID)
	}
	webSearch := cfg.WebSearch
	if webSearch == nil {
		webSearch = NewCustomSearchClient(cfg.SearchAPIKey, cfg.WebSearchEngineID)
	}

	healthSearchTool := NewHealthSearchTool(healthSearch)
	webSearchTool := NewWebSearchTool(webSearch)
	travelAdvisoryTool := NewTravelAdvisoryTool(NewTuGoClient(cfg.TuGoAPIKey))

	travel, err := newTravelWorkflow(m, healthSearchTool, travelAdvisoryTool)
	if err != nil {
		return nil, fmt.Errorf("healthnav: travel workflow: %w", err)
	}
	chronic, err := newChronicWorkflow(m, healthSearchTool, webSearchTool)
	if err != nil {
		return nil, fmt.Errorf("healthnav: chronic workflow: %w", err)
	}
	misinfo, err := newMisinformationAgent(m, healthSearchTool)
	if err != nil {
		return nil, fmt.Errorf("healthnav: misinformation agent: %w", err)
	}
	prescription, err := newPrescriptionAgent(m, webSearchTool)
	if err != nil {
		return nil, fmt.Errorf("healthnav: prescription agent: %w", err)
	}

	router, err := agent.NewRouterAgent("health_router",
		map[string]agent.Delegate{
			IntentTravel: {
				Agent: travel,
			},
			IntentChronic: {
				Agent:              chronic,
				RequiresFact:       StateUserLocation,
				ClarifyingQuestion: "To help you find care, what city and state are you in?",
			},
			IntentMisinfo: {
				Agent: misinfo,
			},
			IntentPrescription: {
				Agent: prescription,
			},
		},
		agent.WithRouterModel(m),
		agent.WithRouterInstruction(heredoc.Doc(`
			You are the top-level health navigator. You can help with:
			- Verifying health claims and misinformation
			- Travel health advice and vaccine recommendations
			- Chronic condition education and lifestyle coaching
			- Medication and prescription explanations

			Routing hints:
			- Claims like "is this true?" are misinformation checks.
			- "I'm going to [country]" or trip vaccine questions are travel advice.
			- Named conditions (diabetes, hypertension, asthma) are chronic care.
			- Drug names, side effects or prescriptions are prescription questions.
		`)),
		agent.WithFallback("I can help with travel health, chronic condition education, "+
			"medication explanations, and checking health claims. What would you like to know?"),
		agent.WithFactTools(
			NewSaveLocationTool(),
			NewGetLocationTool(),
			tool.NewLoadMemoryTool(),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("healthnav: router: %w", err)
	}

	return &App{Root: router}, nil
}

func newTravelWorkflow(m types.Model, healthSearch, travelAdvisory types.Tool) (types.Agent, error) {
	intake, err := agent.NewLLMAgent("travel_intent_agent",
		agent.WithModel(m),
		agent.WithInstruction(heredoc.Doc(`
			You are a travel health intake agent.

			Summarize the traveler's plans from their request: destination,
			dates, trip length, purpose, and any risk factors they mention
			(age, pregnancy, chronic conditions). Don't give any medical
			advice yet.
		`)),
		agent.WithOutputKey(KeyTravelIntentSummary),
		agent.WithAgentOptions(agent.WithDescription("Summarizes the traveler's plans and risk factors.")),
	)
	if err != nil {
		return nil, err
	}

	cdcWho, err := agent.NewLLMAgent("cdc_who_travel_agent",
		agent.WithModel(m),
		agent.WithInstruction(heredoc.Doc(`
			You are a CDC and WHO travel guidance summarizer.
			Trip summary: {travel_intent_summary?}

			Use cdc_who_search to retrieve official CDC and WHO travel pages
			for the destination and time window. Focus on:
			- Required or recommended vaccines
			- Malaria / mosquito-borne risk
			- Food/water precautions
			- Outbreak alerts

			Never diagnose or prescribe. Only summarize official guidance.
			Always cite URLs.
		`)),
		agent.WithTools(healthSearch),
		agent.WithOutputKey(KeyCDCWHOTravelSummary),
		agent.WithAgentOptions(agent.WithDescription("Summarizes official CDC and WHO travel guidance.")),
	)
	if err != nil {
		return nil, err
	}

	tugo, err := agent.NewLLMAgent("tugo_travel_agent",
		agent.WithModel(m),
		agent.WithInstruction(heredoc.Doc(`
			You are a travel guidance summarizer.
			Trip summary: {travel_intent_summary?}

			Use tugo_travel_advisory to fetch structured advisory and
			health/safety information for the destination. Focus on
			high-level public health recommendations: vaccines, mosquito-borne
			risk, food/water precautions, outbreak alerts and safety risks.

			Always cite your source.
		`)),
		agent.WithTools(travelAdvisory),
		agent.WithOutputKey(KeyTuGoTravelSummary),
		agent.WithAgentOptions(agent.WithDescription("Summarizes TuGo travel advisories.")),
	)
	if err != nil {
		return nil, err
	}

	evidence := agent.NewParallelAgent("travel_parallel_evidence",
		agent.WithSubAgents(cdcWho, tugo),
		agent.WithDescription("Gathers CDC/WHO and TuGo travel evidence concurrently."),
	)

	summary, err := agent.NewLLMAgent("travel_summary_agent",
		agent.WithModel(m),
		agent.WithInstruction(heredoc.Doc(`
			You are a travel & vaccine companion. You see two inputs:
			- CDC/WHO view: {cdc_who_travel_summary?}
			- TuGo view: {tugo_travel_summary?}

			1. Reconcile them into a single, user-friendly explanation and
			   mention which source each part comes from.
			2. Highlight any differences in guidance.
			3. Present a checklist: before you travel, while traveling, when
			   you return.
			4. You are NOT a doctor; the user must confirm vaccines and
			   prescriptions with a clinician.

			Do NOT invent vaccines or treatments. If unsure, say so.
		`)),
		agent.WithOutputKey(KeyTravelFinalAnswer),
		agent.WithAgentOptions(agent.WithDescription("Reconciles travel evidence into one answer.")),
	)
	if err != nil {
		return nil, err
	}

	workflow := agent.NewSequentialAgent("travel_workflow_agent",
		agent.WithSubAgents(intake, evidence, summary),
		agent.WithDescription("Travel health advice: vaccines, advisories and precautions for a trip."),
	)
	return workflow, nil
}

func newChronicWorkflow(m types.Model, healthSearch, webSearch types.Tool) (types.Agent, error) {
	coach, err := agent.NewLLMAgent("chronic_coach_agent",
		agent.WithModel(m),
		agent.WithInstruction(heredoc.Doc(`
			You are a chronic-condition education coach.
			The user is located in: {user:location?}

			Create a concise education plan:
			- What the condition is, at a high level.
			- Common symptoms / risk factors, without fear-mongering.
			- Safe, conservative lifestyle and daily routine suggestions.
			- Specific questions the user can ask their clinician.

			STRICT SAFETY RULES: never diagnose, prescribe, change
			medications, or give emergency advice.

			Always finish with: "This is educational only and not a
			substitute for care from your clinician."
		`)),
		agent.WithTools(healthSearch),
		agent.WithOutputKey(KeyChronicPlan),
		agent.WithAgentOptions(agent.WithDescription("Builds a chronic condition education plan.")),
	)
	if err != nil {
		return nil, err
	}

	hospitals, err := agent.NewLLMAgent("hospital_finder_agent",
		agent.WithModel(m),
		agent.WithInstruction(heredoc.Doc(`
			You are a hospital finder. The user's location is: {user:location?}

			Use web_search with queries like "hospitals near [CITY] for
			[CONDITION]" and pick 3 to 5 realistic options near that
			location. For each, return the name, the city or neighborhood, a
			one-line reason it's relevant, and the URL.

			Do NOT invent hospitals; base your output on the search results.
			Add: "These are example options based on web search; they are
			not endorsements."
		`)),
		agent.WithTools(webSearch),
		agent.WithOutputKey(KeyHospitalSuggestions),
		agent.WithAgentOptions(agent.WithDescription("Finds hospitals near the user's location.")),
	)
	if err != nil {
		return nil, err
	}

	summary, err := agent.NewLLMAgent("chronic_summary_agent",
		agent.WithModel(m),
		agent.WithInstruction(heredoc.Doc(`
			You combine an education plan with nearby hospital options.

			You receive:
			- education plan: {chronic_plan?}
			- hospital suggestions: {hospital_suggestions?}

			Show the education plan first, then a section listing the
			hospital suggestions with city, state and website link. Do NOT
			add hospitals that are not in the suggestions. End with a
			disclaimer that this is general information, care decisions
			belong with the user's clinician, and no provider is endorsed.
		`)),
		agent.WithOutputKey(KeyChronicFinalAnswer),
		agent.WithAgentOptions(agent.WithDescription("Combines the plan and hospital options into one answer.")),
	)
	if err != nil {
		return nil, err
	}

	workflow := agent.NewSequentialAgent("chronic_workflow_agent",
		agent.WithSubAgents(coach, hospitals, summary),
		agent.WithDescription("Chronic condition education with nearby care options."),
	)
	return workflow, nil
}

func newMisinformationAgent(m types.Model, healthSearch types.Tool) (types.Agent, error) {
	return agent.NewLLMAgent("misinformation_agent",
		agent.WithModel(m),
		agent.WithInstruction(heredoc.Doc(`
			You are a cautious public health misinformation checker.

			- Verify health claims strictly against CDC (cdc.gov) and WHO
			  (who.int) content.
			- ALWAYS call cdc_who_search to retrieve evidence first.
			- Compare multiple sources if available.
			- Clearly state whether the claim seems CONSISTENT or
			  INCONSISTENT with official guidance.
			- Always include URLs in your answer.
			- Always say: "This is not medical advice. Talk to a licensed
			  clinician for personal decisions."
		`)),
		agent.WithTools(healthSearch),
		agent.WithAgentOptions(agent.WithDescription("Checks health claims against CDC and WHO guidance.")),
	)
}

func newPrescriptionAgent(m types.Model, webSearch types.Tool) (types.Agent, error) {
	return agent.NewLLMAgent("prescription_explainer_agent",
		agent.WithModel(m),
		agent.WithInstruction(heredoc.Doc(`
			You are a medication and diagnosis explainer. The user may give a
			diagnosis, a drug name, or both.

			1. If a drug is mentioned, use web_search to find information
			   about it, then explain in simple terms: what it is for, how it
			   generally works, common side effects, FDA approval status, and
			   high-level warnings or interactions.
			2. If a diagnosis is mentioned, explain what it is and the
			   typical goals of treatment, at a high level.
			3. NEVER prescribe, change dosages, or tell the user to start or
			   stop medicines.
			4. End with: "This is educational only; confirm with your
			   clinician."
		`)),
		agent.WithTools(webSearch),
		agent.WithOutputKey(KeyPrescriptionExplanation),
		agent.WithAgentOptions(agent.WithDescription("Explains medications and diagnoses in plain language.")),
	)
}
