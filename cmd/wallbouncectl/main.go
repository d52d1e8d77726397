package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

var version = "dev"

// loadEnvFile reads ~/.wallbounce/env (written by make start) and sets any
// key=value pairs not already present in the process environment. This lets
// wallbouncectl work out of the box without shell profile configuration.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	data, err := os.ReadFile(home + "/.wallbounce/env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if os.Getenv(strings.TrimSpace(k)) == "" {
			_ = os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("wallbouncectl %s\n", version)
	case "admin-token":
		doAdminToken()
	case "rotate-admin-token":
		doRotateAdminToken()
	case "status":
		doStatus()
	case "health":
		doHealth()
	case "analyze":
		doAnalyze(args)
	case "provider", "providers":
		doProviders()
	case "tool", "tools":
		doTools()
	case "approval", "approvals":
		doApprovals(args)
	case "trail":
		doTrail(args)
	case "logs":
		doLogs(args)
	case "votes":
		doVotes(args)
	case "audit":
		doAudit(args)
	case "stats":
		doStats(args)
	case "config":
		doConfig()
	case "events":
		doEvents()
	case "vault":
		doVault(args)
	case "loglevel":
		doLogLevel(args)
	case "workflow", "workflows":
		doWorkflows(args)
	case "tsdb":
		doTSDB(args)
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `wallbouncectl - CLI for the wallbounce analysis API

Usage: wallbouncectl <command> [arguments]

Environment:
  WALLBOUNCE_URL             Base URL (default: http://localhost:8080)
  WALLBOUNCE_ADMIN_TOKEN     Bearer token for admin endpoints
  WALLBOUNCE_APPROVER_TOKEN  Approver token for approval decisions

  ~/.wallbounce/env          Auto-sourced on startup; written by make start.
                             Explicit environment variables take precedence.

Commands:
  admin-token                 Print the admin token (env, file, or Docker)
  rotate-admin-token          Rotate the admin token
  status                      Show server info and vault state
  health                      Show provider health stats

  analyze <prompt> [flags]    Run a consensus analysis
      --tier basic|premium|critical
      --mode parallel|sequential
      --depth N               Rounds for sequential mode
      --wait                  Route through the workflow engine and wait

  providers                   List registered providers
  tools                       List the tool catalog

  approvals list [state]      List approval requests (pending, rejected, ...)
  approvals show <id>         Show one approval request
  approvals approve <id>      Approve a pending request
  approvals reject <id>       Reject a pending request
  trail                       Show the approval audit trail

  logs [--limit N]            Show analysis logs
  votes [--limit N]           Show per-provider vote logs
  audit [--limit N]           Show admin audit logs
  stats [vendor|global]       Show aggregated stats
  config                      Show effective runtime config
  events                      Stream real-time SSE events

  vault unlock <password>     Unlock the secret vault
  vault lock                  Lock the secret vault
  vault status                Show vault state

  loglevel [level]            Show or set the log level

  workflows list              List analysis workflow executions
  workflows show <id>         Describe one workflow execution
  workflows history <id>      Show a workflow's event history

  tsdb query <args>           Query the metrics TSDB
  tsdb metrics                List TSDB metric names
  tsdb prune                  Prune old TSDB data

  version                     Show version
  help                        Show this help

Examples:
  wallbouncectl status
  wallbouncectl analyze "why is the deploy pipeline flaky" --tier premium
  wallbouncectl approvals list pending
  wallbouncectl approvals approve a1b2c3
  wallbouncectl vault unlock "my-secret-password"
  wallbouncectl tsdb query metric=consensus_confidence step_ms=60000
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("WALLBOUNCE_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func adminToken() string {
	return os.Getenv("WALLBOUNCE_ADMIN_TOKEN")
}

func approverToken() string {
	return os.Getenv("WALLBOUNCE_APPROVER_TOKEN")
}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	return doRequestToken(method, path, body, adminToken())
}

func doRequestToken(method, path string, body io.Reader, token string) (*http.Response, error) {
	url := baseURL() + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest("GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path, bodyJSON string) map[string]any {
	resp, err := doRequest("POST", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPut(path, bodyJSON string) map[string]any {
	resp, err := doRequest("PUT", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		// Might be an array; wrap it.
		var arr []any
		if err2 := json.Unmarshal(data, &arr); err2 == nil {
			return map[string]any{"items": arr}
		}
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: wallbouncectl %s\n", usage)
		os.Exit(1)
	}
}

func parseLimit(args []string) int {
	for i, a := range args {
		if a == "--limit" && i+1 < len(args) {
			n, _ := strconv.Atoi(args[i+1])
			if n > 0 {
				return n
			}
		}
	}
	return 50
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

// --- Commands ---

func doAdminToken() {
	// 1. Environment variable.
	if tok := os.Getenv("WALLBOUNCE_ADMIN_TOKEN"); tok != "" {
		fmt.Println(tok)
		return
	}

	// 2. Local token file (native deployment).
	home, _ := os.UserHomeDir()
	if home != "" {
		if data, err := os.ReadFile(home + "/.wallbounce/.admin-token"); err == nil {
			if tok := strings.TrimSpace(string(data)); tok != "" {
				fmt.Println(tok)
				return
			}
		}
	}

	// 3. Docker container token file.
	for _, name := range []string{"wallbounce-wallbounce-1", "wallbounce"} {
		out, err := exec.Command("docker", "exec", name, "cat", "/data/.admin-token").Output()
		if err == nil {
			if tok := strings.TrimSpace(string(out)); tok != "" {
				fmt.Println(tok)
				return
			}
		}
	}

	fmt.Fprintln(os.Stderr, "admin token not found: set WALLBOUNCE_ADMIN_TOKEN or ensure the service is running")
	os.Exit(1)
}

func doRotateAdminToken() {
	result := doPost("/admin/v1/admin-token/rotate", "{}")
	token, _ := result["token"].(string)
	if token == "" {
		fmt.Fprintln(os.Stderr, "rotation failed:", result)
		os.Exit(1)
	}
	fmt.Println("Admin token rotated.")
	fmt.Println("New token:", token)
	fmt.Println()
	fmt.Println("Update your environment or run: make _write-env")
}

func doStatus() {
	healthResp, err := doRequest("GET", "/healthz", nil)
	fatal(err)
	defer func() { _ = healthResp.Body.Close() }()
	hData, _ := io.ReadAll(healthResp.Body)
	var h map[string]any
	_ = json.Unmarshal(hData, &h)

	status := "unknown"
	if s, ok := h["status"].(string); ok {
		status = s
	}
	providers := 0
	if n, ok := h["providers"].(float64); ok {
		providers = int(n)
	}
	invokers := 0
	if n, ok := h["invokers"].(float64); ok {
		invokers = int(n)
	}

	vaultState := "not configured"
	if adminToken() != "" {
		vs := doGet("/admin/v1/vault/status")
		if vs["configured"] == true {
			vaultState = "unlocked"
			if vs["locked"] == true {
				vaultState = "locked"
			}
		}
	}

	fmt.Printf("Server:     %s\n", baseURL())
	fmt.Printf("Status:     %s\n", status)
	fmt.Printf("Providers:  %d\n", providers)
	fmt.Printf("Invokers:   %d\n", invokers)
	fmt.Printf("Vault:      %s\n", vaultState)
}

func doHealth() {
	data := doGet("/admin/v1/health")
	providers, _ := data["providers"].([]any)
	if len(providers) == 0 {
		fmt.Println("No provider health data available.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tSTATE\tVOTES\tERRORS\tCONSEC\tAVG LATENCY\tLAST SUCCESS\tLAST ERROR")
	for _, p := range providers {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["provider"].(string)
		state, _ := m["state"].(string)
		votes := fmtNum(m["total_votes"])
		errs := fmtNum(m["total_errors"])
		consec := fmtNum(m["consec_errors"])
		lat := fmtDuration(m["avg_latency_ms"])
		lastOK := fmtTime(m["last_success_at"])
		lastErr, _ := m["last_error"].(string)
		if len(lastErr) > 60 {
			lastErr = lastErr[:57] + "..."
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", id, state, votes, errs, consec, lat, lastOK, lastErr)
	}
	_ = tw.Flush()
}

func doAnalyze(args []string) {
	requireArgs(args, 1, `analyze <prompt> [--tier T] [--mode M] [--depth N] [--wait]`)
	prompt := args[0]

	body := map[string]any{"prompt": prompt}
	if v := flagValue(args, "--tier"); v != "" {
		body["task_type"] = v
	}
	if v := flagValue(args, "--mode"); v != "" {
		body["mode"] = v
	}
	if v := flagValue(args, "--depth"); v != "" {
		n, _ := strconv.Atoi(v)
		body["depth"] = n
	}
	payload, _ := json.Marshal(body)

	path := "/v1/analyze"
	if hasFlag(args, "--wait") {
		path = "/v1/workflows/analyze?wait=true"
	}

	start := time.Now()
	result := doPost(path, string(payload))
	elapsed := time.Since(start).Round(time.Millisecond)

	response, _ := result["response"].(string)
	confidence := fmtNum(result["confidence"])
	taskType, _ := result["task_type"].(string)

	fmt.Printf("Tier:        %s\n", taskType)
	fmt.Printf("Confidence:  %s\n", confidence)
	fmt.Printf("Elapsed:     %v\n", elapsed)
	if wb, ok := result["wall_bounce_analysis"].(map[string]any); ok {
		if used, ok := wb["providers_used"].([]any); ok {
			names := make([]string, 0, len(used))
			for _, u := range used {
				if s, ok := u.(string); ok {
					names = append(names, s)
				}
			}
			fmt.Printf("Providers:   %s\n", strings.Join(names, ", "))
		}
		fmt.Printf("Cost:        %s\n", fmtCost(wb["total_cost"]))
		if wb["tier_escalated"] == true {
			fmt.Printf("Escalated:   yes\n")
		}
	}
	fmt.Printf("\n%s\n", response)
}

func doProviders() {
	data := doGet("/v1/providers")
	providers, _ := data["providers"].([]any)
	if len(providers) == 0 {
		fmt.Println("No providers registered.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tVENDOR\tMODEL\tTRANSPORT\tTIERS\tSTATE")
	for _, p := range providers {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		vendor, _ := m["vendor"].(string)
		model, _ := m["model"].(string)
		transport, _ := m["transport"].(string)
		tiers := ""
		if ts, ok := m["supported_tiers"].([]any); ok {
			parts := make([]string, 0, len(ts))
			for _, t := range ts {
				if s, ok := t.(string); ok {
					parts = append(parts, s)
				}
			}
			tiers = strings.Join(parts, ",")
		}
		state, _ := m["health_state"].(string)
		if state == "" {
			state = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", name, vendor, model, transport, tiers, state)
	}
	_ = tw.Flush()
}

func doTools() {
	data := doGet("/v1/tools")
	tools, _ := data["tools"].([]any)
	if len(tools) == 0 {
		fmt.Println("No tools in the catalog.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LABEL\tCOST\tSECURITY\tAPPROVAL\tOPERATIONS")
	for _, t := range tools {
		m, ok := t.(map[string]any)
		if !ok {
			continue
		}
		label, _ := m["label"].(string)
		cost, _ := m["cost_tier"].(string)
		sec, _ := m["security_tier"].(string)
		policy, _ := m["approval_policy"].(string)
		ops := ""
		if os, ok := m["allowed_operations"].([]any); ok {
			parts := make([]string, 0, len(os))
			for _, o := range os {
				if s, ok := o.(string); ok {
					parts = append(parts, s)
				}
			}
			ops = strings.Join(parts, ",")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", label, cost, sec, policy, ops)
	}
	_ = tw.Flush()
}

func doApprovals(args []string) {
	if len(args) == 0 || args[0] == "list" {
		path := "/v1/approvals"
		if len(args) > 1 {
			path += "?state=" + args[1]
		}
		data := doGet(path)
		approvals, _ := data["approvals"].([]any)
		if len(approvals) == 0 {
			fmt.Println("No approval requests.")
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tTOOL\tOPERATION\tRISK\tSTATE\tCREATED\tDECIDER")
		for _, a := range approvals {
			m, ok := a.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["id"].(string)
			tool, _ := m["tool_label"].(string)
			op, _ := m["operation"].(string)
			risk, _ := m["risk"].(string)
			state, _ := m["state"].(string)
			created := fmtTime(m["created_at"])
			decider, _ := m["decider"].(string)
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", id, tool, op, risk, state, created, decider)
		}
		_ = tw.Flush()
		return
	}

	switch args[0] {
	case "show":
		requireArgs(args, 2, "approvals show <id>")
		data := doGet("/v1/approvals/" + args[1])
		fmt.Println(prettyJSON(data))
	case "approve":
		requireArgs(args, 2, "approvals approve <id>")
		doDecision(args[1], true, flagValue(args, "--notes"))
	case "reject":
		requireArgs(args, 2, "approvals reject <id>")
		doDecision(args[1], false, flagValue(args, "--notes"))
	default:
		fmt.Fprintf(os.Stderr, "unknown approvals command: %s\n", args[0])
		os.Exit(1)
	}
}

func doDecision(id string, approve bool, notes string) {
	tok := approverToken()
	if tok == "" {
		fmt.Fprintln(os.Stderr, "WALLBOUNCE_APPROVER_TOKEN is required for approval decisions")
		os.Exit(1)
	}
	body, _ := json.Marshal(map[string]any{"approve": approve, "notes": notes})
	resp, err := doRequestToken("POST", "/v1/approvals/"+id+"/decision", strings.NewReader(string(body)), tok)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	result := readJSON(resp)

	state, _ := result["state"].(string)
	decider, _ := result["decider"].(string)
	fmt.Printf("Approval %s: %s (decided by %s)\n", id, state, decider)
}

func doTrail(args []string) {
	path := "/admin/v1/approvals/trail"
	if hasFlag(args, "--store") {
		path += "?source=store"
	}
	data := doGet(path)
	trail, _ := data["trail"].([]any)
	if len(trail) == 0 {
		fmt.Println("No approval transitions recorded.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tREQUEST\tFROM\tTO\tDECIDER\tNOTES")
	for _, t := range trail {
		m, ok := t.(map[string]any)
		if !ok {
			continue
		}
		at := fmtTime(m["at"])
		req, _ := m["request_id"].(string)
		from, _ := m["from"].(string)
		to, _ := m["to"].(string)
		decider, _ := m["decider"].(string)
		notes, _ := m["notes"].(string)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", at, req, from, to, decider, notes)
	}
	_ = tw.Flush()
}

func doLogs(args []string) {
	limit := parseLimit(args)
	data := doGet(fmt.Sprintf("/admin/v1/logs?limit=%d", limit))
	logs, _ := data["logs"].([]any)
	if len(logs) == 0 {
		fmt.Println("No analysis logs.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tTIER\tMODE\tPROVIDERS\tCONFIDENCE\tLATENCY\tCOST\tERROR")
	for _, l := range logs {
		m, _ := l.(map[string]any)
		ts := fmtTime(m["timestamp"])
		tier, _ := m["tier"].(string)
		mode, _ := m["mode"].(string)
		providers, _ := m["providers_used"].(string)
		conf := fmtNum(m["confidence"])
		lat := fmtDuration(m["total_latency_ms"])
		cost := fmtCost(m["total_cost_usd"])
		errKind, _ := m["error_kind"].(string)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", ts, tier, mode, providers, conf, lat, cost, errKind)
	}
	_ = tw.Flush()
}

func doVotes(args []string) {
	limit := parseLimit(args)
	data := doGet(fmt.Sprintf("/admin/v1/votes?limit=%d", limit))
	votes, _ := data["votes"].([]any)
	if len(votes) == 0 {
		fmt.Println("No vote logs.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tPROVIDER\tMODEL\tCONFIDENCE\tAGREEMENT\tLATENCY\tCOST\tERROR")
	for _, v := range votes {
		m, _ := v.(map[string]any)
		ts := fmtTime(m["timestamp"])
		prov, _ := m["provider"].(string)
		model, _ := m["model"].(string)
		conf := fmtNum(m["confidence"])
		agree := fmtNum(m["agreement_score"])
		lat := fmtDuration(m["latency_ms"])
		cost := fmtCost(m["cost_usd"])
		errKind, _ := m["error_kind"].(string)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", ts, prov, model, conf, agree, lat, cost, errKind)
	}
	_ = tw.Flush()
}

func doAudit(args []string) {
	limit := parseLimit(args)
	data := doGet(fmt.Sprintf("/admin/v1/audit?limit=%d", limit))
	logs, _ := data["audit"].([]any)
	if len(logs) == 0 {
		fmt.Println("No audit logs.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tACTION\tRESOURCE\tREQUEST ID")
	for _, l := range logs {
		m, _ := l.(map[string]any)
		ts := fmtTime(m["timestamp"])
		action, _ := m["action"].(string)
		resource, _ := m["resource"].(string)
		reqID, _ := m["request_id"].(string)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ts, action, resource, reqID)
	}
	_ = tw.Flush()
}

func doStats(args []string) {
	path := "/admin/v1/stats"
	if len(args) > 0 {
		path += "?by=" + args[0]
	}
	data := doGet(path)
	fmt.Println(prettyJSON(data))
}

func doConfig() {
	data := doGet("/admin/v1/config")
	fmt.Println(prettyJSON(data))
}

func doEvents() {
	resp, err := doRequest("GET", "/v1/events", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()

	fmt.Println("Streaming events (Ctrl-C to stop)...")
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			lines := strings.Split(string(buf[:n]), "\n")
			for _, line := range lines {
				line = strings.TrimSpace(line)
				if strings.HasPrefix(line, "data:") {
					payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
					var evt map[string]any
					if json.Unmarshal([]byte(payload), &evt) == nil {
						evtType, _ := evt["type"].(string)
						provider, _ := evt["provider"].(string)
						tier, _ := evt["tier"].(string)
						conf := fmtNum(evt["confidence"])
						latency := fmtDuration(evt["latency_ms"])
						errKind, _ := evt["error_kind"].(string)
						ts := time.Now().Format("15:04:05")
						if errKind != "" {
							fmt.Printf("[%s] %s  provider=%s tier=%s error=%s\n", ts, evtType, provider, tier, errKind)
						} else {
							fmt.Printf("[%s] %s  provider=%s tier=%s confidence=%s latency=%s\n", ts, evtType, provider, tier, conf, latency)
						}
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				fmt.Println("Event stream closed.")
			}
			break
		}
	}
}

func doVault(args []string) {
	requireArgs(args, 1, "vault <unlock|lock|status> [args]")
	switch args[0] {
	case "unlock":
		requireArgs(args, 2, "vault unlock <password>")
		body := fmt.Sprintf(`{"master":%s}`, jsonStr(args[1]))
		result := doPost("/admin/v1/vault/unlock", body)
		if result["locked"] == false {
			fmt.Println("Vault unlocked.")
		}
	case "lock":
		result := doPost("/admin/v1/vault/lock", "{}")
		if result["locked"] == true {
			fmt.Println("Vault locked.")
		}
	case "status":
		data := doGet("/admin/v1/vault/status")
		if data["configured"] != true {
			fmt.Println("Vault: not configured")
			return
		}
		if data["locked"] == true {
			fmt.Println("Vault: locked")
		} else {
			fmt.Println("Vault: unlocked")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown vault command: %s\n", args[0])
		os.Exit(1)
	}
}

func doLogLevel(args []string) {
	if len(args) == 0 {
		data := doGet("/admin/v1/loglevel")
		fmt.Println("Log level:", data["level"])
		return
	}
	body := fmt.Sprintf(`{"level":%s}`, jsonStr(args[0]))
	result := doPut("/admin/v1/loglevel", body)
	fmt.Println("Log level set to", result["level"])
}

func doWorkflows(args []string) {
	if len(args) == 0 || args[0] == "list" {
		data := doGet("/admin/v1/workflows")
		workflows, _ := data["workflows"].([]any)
		if len(workflows) == 0 {
			if data["temporal_enabled"] == false {
				fmt.Println("Workflow engine is not enabled.")
				return
			}
			fmt.Println("No workflow executions.")
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "WORKFLOW ID\tTYPE\tSTATUS\tSTARTED")
		for _, e := range workflows {
			m, _ := e.(map[string]any)
			id, _ := m["workflow_id"].(string)
			typ, _ := m["type"].(string)
			status, _ := m["status"].(string)
			started := fmtTime(m["start_time"])
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, typ, status, started)
		}
		_ = tw.Flush()
		return
	}

	switch args[0] {
	case "show":
		requireArgs(args, 2, "workflows show <id>")
		data := doGet("/admin/v1/workflows/" + args[1])
		fmt.Println(prettyJSON(data))
	case "history":
		requireArgs(args, 2, "workflows history <id>")
		data := doGet("/admin/v1/workflows/" + args[1] + "/history")
		fmt.Println(prettyJSON(data))
	default:
		fmt.Fprintf(os.Stderr, "unknown workflows command: %s\n", args[0])
		os.Exit(1)
	}
}

func doTSDB(args []string) {
	requireArgs(args, 1, "tsdb <query|metrics|prune> [args]")
	switch args[0] {
	case "metrics":
		data := doGet("/admin/v1/tsdb/metrics")
		fmt.Println(prettyJSON(data))
	case "prune":
		result := doPost("/admin/v1/tsdb/prune", "{}")
		fmt.Println(prettyJSON(result))
	case "query":
		qs := ""
		if len(args) > 1 {
			qs = "?" + strings.Join(args[1:], "&")
		}
		data := doGet("/admin/v1/tsdb/query" + qs)
		fmt.Println(prettyJSON(data))
	default:
		fmt.Fprintf(os.Stderr, "unknown tsdb command: %s\n", args[0])
		os.Exit(1)
	}
}

// --- Formatting helpers ---

func fmtNum(v any) string {
	if v == nil {
		return "-"
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return strconv.Itoa(int(n))
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	case int:
		return strconv.Itoa(n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fmtCost(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f == 0 {
			return "free"
		}
		return fmt.Sprintf("$%.4f", f)
	}
	return fmt.Sprintf("%v", v)
}

func fmtDuration(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f < 1000 {
			return fmt.Sprintf("%.0fms", f)
		}
		return fmt.Sprintf("%.1fs", f/1000)
	}
	return fmt.Sprintf("%v", v)
}

func fmtTime(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}

func jsonStr(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func init() {
	http.DefaultTransport.(*http.Transport).DisableKeepAlives = true
	http.DefaultClient.Timeout = 30 * time.Second
}
