//go:build integration
// +build integration

// Package integration provides end-to-end tests for the CallGuard call
// screening engine.
//
// These tests verify the COMPLETE analysis pipeline:
//
//	Call → Ingest → Rules → Score → Classification
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. CALL: A transcript and/or acoustic feature map submitted for analysis
//
// 2. RULE: A detection pattern. Each rule has:
//   - Pattern: a regex (keyword/pattern) or CEL expression (acoustic/behavioral)
//   - Label: the risk category an indicator carries (fraud, phishing, spam, robocall)
//   - ScoreImpact: additive weight in [0,100] when the rule fires
//
// 3. SCORE: Sum of indicator contributions, capped at 100:
//   - [0,20)   minimal   [20,40) low   [40,60) medium
//   - [60,80)  high      [80,100] critical
//
// 4. CLASSIFICATION: The call risk category with the highest cumulative
//    contribution; ties break fraud > phishing > spam > robocall. No
//    indicators means "safe".
//
// 5. VOICE DETECTION: POST /voice/detect classifies acoustic features as
//    ai_generated, human, or uncertain.
//
// REQUIRED RULES (must be seeded via API before running tests):
//
// Run: ./scripts/seed-rules.sh  (or manually create via POST /rules)
//
// | Rule ID      | Category | Pattern                  | Label    | Impact |
// |--------------|----------|--------------------------|----------|--------|
// | bank-account | keyword  | bank account             | fraud    | 45     |
// | otp-request  | keyword  | otp|one.time password    | phishing | 40     |
// | prize-bait   | pattern  | you (have )?won          | spam     | 20     |
//
// NOTE: Rules are database-driven. No built-in rules exist.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("CALLGUARD_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "test-tenant",
	}
}

// ============================================================================
// API Request/Response Types (matching CallGuard's API contract)
// ============================================================================

// AnalyzeRequest is the call sent to POST /analyze
type AnalyzeRequest struct {
	Transcript   string             `json:"transcript,omitempty"`
	Acoustic     map[string]float64 `json:"acousticFeatures,omitempty"`
	Language     string             `json:"language,omitempty"`
	CallerNumber string             `json:"callerNumber,omitempty"`
	Duration     float64            `json:"durationSeconds,omitempty"`
}

// AnalyzeResponse is what the analysis endpoints return
type AnalyzeResponse struct {
	AnalysisID string           `json:"analysisId"`
	CallID     string           `json:"callId"`
	Result     AnalysisResult   `json:"result"`
	Metadata   ResponseMetadata `json:"metadata"`
}

type AnalysisResult struct {
	Classification     string      `json:"classification"`
	RiskScore          float64     `json:"riskScore"`
	RiskBand           string      `json:"riskBand"`
	ConfidenceScore    float64     `json:"confidenceScore"`
	Indicators         []Indicator `json:"indicators"`
	SuspiciousKeywords []string    `json:"suspiciousKeywords,omitempty"`
	Explanation        string      `json:"explanation"`
	Language           string      `json:"language"`
	IsAIGenerated      *bool       `json:"isAiGenerated,omitempty"`
}

type Indicator struct {
	RuleID            string `json:"ruleId,omitempty"`
	Type              string `json:"type"`
	Category          string `json:"category"`
	Severity          string `json:"severity"`
	Description       string `json:"description"`
	ScoreContribution int    `json:"scoreContribution"`
}

type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func post(t *testing.T, config TestConfig, path string, req any) (*http.Response, []byte) {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp, respBody
}

func analyze(t *testing.T, config TestConfig, path string, req AnalyzeRequest) AnalyzeResponse {
	t.Helper()

	resp, respBody := post(t, config, path, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result AnalyzeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}
	return result
}

// ============================================================================
// SCENARIO 1: Ordinary Call (Safe)
// ============================================================================

func TestOrdinaryCall_Safe(t *testing.T) {
	/*
	   SCENARIO: A mundane transcript with no suspicious content

	   EXPECTED BEHAVIOR:
	   - No seeded rule matches → no indicators
	   - Classification: "safe", score 0, band "minimal"
	*/
	config := getTestConfig()

	result := analyze(t, config, "/analyze", AnalyzeRequest{
		Transcript:   "hi, just calling to confirm our lunch plans for saturday",
		Language:     "en",
		CallerNumber: "+14155550100",
	})

	if result.Result.Classification != "safe" {
		t.Errorf("Expected classification safe, got %s", result.Result.Classification)
	}
	if result.Result.RiskScore != 0 {
		t.Errorf("Expected score 0, got %.2f", result.Result.RiskScore)
	}
	if len(result.Result.Indicators) > 0 {
		t.Errorf("Expected no indicators, got %v", result.Result.Indicators)
	}

	t.Logf("✓ Ordinary call passed: classification=%s, score=%.2f",
		result.Result.Classification, result.Result.RiskScore)
}

// ============================================================================
// SCENARIO 2: Fraud Script (Single Rule)
// ============================================================================

func TestFraudScript_RuleTriggered(t *testing.T) {
	/*
	   SCENARIO: Caller asks for bank account details

	   EXPECTED BEHAVIOR:
	   - bank-account keyword rule fires: fraud, impact 45
	   - Score 45 → band "medium", classification "fraud"
	*/
	config := getTestConfig()

	result := analyze(t, config, "/analyze", AnalyzeRequest{
		Transcript: "this is your bank, please verify your bank account number immediately",
		Language:   "en",
	})

	if result.Result.Classification != "fraud" {
		t.Errorf("Expected classification fraud, got %s", result.Result.Classification)
	}
	if result.Result.RiskScore < 40 {
		t.Errorf("Expected score >= 40, got %.2f", result.Result.RiskScore)
	}
	if len(result.Result.SuspiciousKeywords) == 0 {
		t.Error("Expected matched phrase in suspiciousKeywords")
	}

	t.Logf("✓ Fraud script flagged: classification=%s, score=%.2f, keywords=%v",
		result.Result.Classification, result.Result.RiskScore, result.Result.SuspiciousKeywords)
}

// ============================================================================
// SCENARIO 3: Compound Risk (Multiple Rules)
// ============================================================================

func TestCompoundRisk_HighScore(t *testing.T) {
	/*
	   SCENARIO: A transcript tripping fraud, phishing, and spam rules at once

	   EXPECTED BEHAVIOR:
	   - bank-account (45) + otp-request (40) + prize-bait (20) = 105, capped at 100
	   - Classification "fraud": highest cumulative category wins
	   - Band "critical"

	   WHY THIS MATTERS:
	   Real scam scripts stack tactics. The cap keeps the score bounded
	   while the category breakdown stays uncapped.
	*/
	config := getTestConfig()

	result := analyze(t, config, "/analyze", AnalyzeRequest{
		Transcript: "congratulations, you won a prize! to claim it, confirm your bank account and read me the OTP we just sent",
		Language:   "en",
	})

	if result.Result.Classification != "fraud" {
		t.Errorf("Expected classification fraud, got %s", result.Result.Classification)
	}
	if result.Result.RiskScore != 100 {
		t.Errorf("Expected score capped at 100, got %.2f", result.Result.RiskScore)
	}
	if result.Result.RiskBand != "critical" {
		t.Errorf("Expected critical band, got %s", result.Result.RiskBand)
	}
	if len(result.Result.Indicators) < 3 {
		t.Errorf("Expected at least 3 indicators, got %d", len(result.Result.Indicators))
	}

	t.Logf("✓ Compound risk flagged: score=%.2f, band=%s, indicators=%d",
		result.Result.RiskScore, result.Result.RiskBand, len(result.Result.Indicators))
}

// ============================================================================
// SCENARIO 4: AI Voice Detection
// ============================================================================

func TestVoiceDetection_Synthetic(t *testing.T) {
	/*
	   SCENARIO: Acoustic features typical of synthesized speech:
	   flat pitch, machine-regular timing, uniform spectrum

	   EXPECTED BEHAVIOR:
	   - Multiple built-in checks fire, composite >= 70
	   - Classification "ai_generated", isAiGenerated true
	*/
	config := getTestConfig()

	result := analyze(t, config, "/voice/detect", AnalyzeRequest{
		Acoustic: map[string]float64{
			"pitch_std":              4,
			"pitch_range":            30,
			"spectral_flatness_mean": 0.05,
			"spectral_flatness_std":  0.01,
			"spectral_centroid_std":  100,
			"onset_regularity":       0.96,
			"zero_crossing_rate":     0.01,
			"mfcc_variance_total":    20,
			"hnr_approx":             30,
		},
	})

	if result.Result.Classification != "ai_generated" {
		t.Errorf("Expected ai_generated, got %s", result.Result.Classification)
	}
	if result.Result.IsAIGenerated == nil || !*result.Result.IsAIGenerated {
		t.Error("Expected isAiGenerated true")
	}

	t.Logf("✓ Synthetic voice detected: score=%.2f, indicators=%d",
		result.Result.RiskScore, len(result.Result.Indicators))
}

func TestVoiceDetection_Human(t *testing.T) {
	/*
	   SCENARIO: Acoustic features with natural variation

	   EXPECTED BEHAVIOR:
	   - No AI checks fire, composite <= 30
	   - Classification "human", isAiGenerated false
	*/
	config := getTestConfig()

	result := analyze(t, config, "/voice/detect", AnalyzeRequest{
		Acoustic: map[string]float64{
			"pitch_std":              60,
			"pitch_range":            180,
			"spectral_flatness_mean": 0.4,
			"spectral_centroid_std":  900,
			"onset_regularity":       0.5,
			"rms_std":                0.08,
			"hnr_approx":             8,
		},
	})

	if result.Result.Classification != "human" {
		t.Errorf("Expected human, got %s", result.Result.Classification)
	}
	if result.Result.IsAIGenerated == nil || *result.Result.IsAIGenerated {
		t.Error("Expected isAiGenerated false")
	}

	t.Logf("✓ Human voice detected: score=%.2f", result.Result.RiskScore)
}

// ============================================================================
// SCENARIO 5: Language Handling
// ============================================================================

func TestLanguageDetection_Tamil(t *testing.T) {
	/*
	   SCENARIO: Tamil transcript without an explicit language hint

	   EXPECTED BEHAVIOR:
	   - Script detection resolves "ta"
	   - Analysis succeeds; the resolved language is reported in the result
	*/
	config := getTestConfig()

	result := analyze(t, config, "/analyze", AnalyzeRequest{
		Transcript: "வணக்கம், உங்கள் வங்கி கணக்கை உறுதிப்படுத்தவும்",
	})

	if result.Result.Language != "ta" {
		t.Errorf("Expected detected language ta, got %s", result.Result.Language)
	}

	t.Logf("✓ Tamil transcript handled: language=%s, classification=%s",
		result.Result.Language, result.Result.Classification)
}

func TestUnsupportedLanguage_Error(t *testing.T) {
	/*
	   SCENARIO: Explicit hint outside the supported set (ta/en/hi/ml/te)

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	resp, body := post(t, config, "/analyze", AnalyzeRequest{
		Transcript: "bonjour",
		Language:   "fr",
	})

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unsupported language, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Validation test passed: unsupported language → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 6: Input Validation
// ============================================================================

func TestEmptyInput_Error(t *testing.T) {
	/*
	   SCENARIO: Neither transcript nor acoustic features supplied

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	resp, body := post(t, config, "/analyze", AnalyzeRequest{Language: "en"})

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty input, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Validation test passed: empty input → HTTP %d", resp.StatusCode)
}

func TestMissingTenantHeader_Error(t *testing.T) {
	/*
	   SCENARIO: Request without X-Tenant-ID header

	   EXPECTED: HTTP 400 Bad Request (tenant is a required field, not auth)
	*/
	config := getTestConfig()

	body, _ := json.Marshal(AnalyzeRequest{Transcript: "hello", Language: "en"})
	httpReq, _ := http.NewRequest("POST", config.BaseURL+"/analyze", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	// NO X-Tenant-ID header!

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 400 or 401 for missing tenant, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing tenant → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 7: Persistence Round-Trip
// ============================================================================

func TestAnalysisPersisted(t *testing.T) {
	/*
	   SCENARIO: A completed analysis is retrievable by ID afterwards

	   This ensures the write path and the read path agree.
	*/
	config := getTestConfig()

	created := analyze(t, config, "/analyze", AnalyzeRequest{
		Transcript: "please confirm your bank account details",
		Language:   "en",
	})

	httpReq, _ := http.NewRequest("GET", config.BaseURL+"/analyses/"+created.AnalysisID, nil)
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 retrieving analysis, got %d: %s", resp.StatusCode, string(respBody))
	}

	var stored struct {
		ID     string         `json:"id"`
		CallID string         `json:"callId"`
		Result AnalysisResult `json:"result"`
	}
	if err := json.Unmarshal(respBody, &stored); err != nil {
		t.Fatalf("Failed to unmarshal stored analysis: %v", err)
	}

	if stored.ID != created.AnalysisID {
		t.Errorf("Expected stored ID %s, got %s", created.AnalysisID, stored.ID)
	}
	if stored.Result.Classification != created.Result.Classification {
		t.Errorf("Stored classification %s differs from returned %s",
			stored.Result.Classification, created.Result.Classification)
	}

	t.Logf("✓ Analysis persisted: id=%s, classification=%s", stored.ID, stored.Result.Classification)
}

// ============================================================================
// SCENARIO 8: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify response includes all required metadata

	   This ensures the API contract is stable for clients.
	*/
	config := getTestConfig()

	result := analyze(t, config, "/analyze", AnalyzeRequest{
		Transcript: "hello there, quick question about the invoice",
		Language:   "en",
	})

	if result.AnalysisID == "" {
		t.Error("Missing analysisId")
	}
	if result.CallID == "" {
		t.Error("Missing callId")
	}
	if result.Result.RiskScore < 0 || result.Result.RiskScore > 100 {
		t.Errorf("Score out of range: %.2f (expected 0-100)", result.Result.RiskScore)
	}
	if result.Result.Explanation == "" {
		t.Error("Missing explanation")
	}
	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}

	// Note: TotalMs can be 0 for very fast operations (sub-millisecond)
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}

	t.Logf("✓ Metadata complete: analysisId=%s, callId=%s, traceId=%s, totalMs=%d",
		result.AnalysisID[:8], result.CallID[:8], result.Metadata.TraceID[:8], result.Metadata.TotalMs)
}
