package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dotcommander/lerim/internal/access"
	"github.com/dotcommander/lerim/internal/models"
)

const extractSystemPrompt = `You extract durable memory primitives from a coding-agent session trace.

Return a JSON array (no prose, no fences) of candidate objects:
  {"primitive": "decision"|"learning", "title": "...", "body": "...",
   "kind": "insight"|"procedure"|"friction"|"pitfall"|"preference",
   "confidence": 0.0-1.0, "tags": ["..."]}

Rules:
- A decision records a durable choice made in the session and its rationale.
- A learning records transferable knowledge; set "kind" for learnings only.
- Titles are short noun phrases. Bodies are 1-4 markdown paragraphs.
- Skip session-specific trivia. Return [] when nothing durable happened.`

const summarizeSystemPrompt = `You summarize one coding-agent session trace.

Return a single JSON object (no prose, no fences):
  {"title": "...", "description": "one sentence",
   "user_intent": "what the user wanted, at most 150 words",
   "session_narrative": "what happened, at most 200 words",
   "tags": ["..."]}`

const syncLeadPromptTemplate = `You are the lead memory agent for one sync run.

Session: run_id %s (platform %s)
Trace file: %s
Run folder: %s
Memory root: %s

Do the following, in order:
1. Call extract_pipeline and summarize_pipeline on the trace file — both may
   be called in the same turn. Use out paths extract.json and summary.json
   inside the run folder.
2. Read extract.json. For each candidate, compare it against the existing
   decisions/ and learnings/ files (use glob, grep, read; delegate wide scans
   to explore):
   - identical primitive, title, and body already on disk: count it no_op
   - same primitive with strongly overlapping content: rewrite that file via
     write with the merged body and count it update
   - otherwise: write a new file into decisions/ or learnings/ and count add
3. Write memory_actions.json in the run folder:
   {"counts": {"add": N, "update": N, "no_op": N},
    "actions": [{"type": "...", "title": "...", "path": "..."}],
    "written_memory_paths": [...], "trace_path": "%s"}

Never write under summaries/ or archived/. When you are done, reply with a
one-paragraph report of what you did.`

// BuildSyncPrompt renders the lead agent's instructions for one extract job.
func BuildSyncPrompt(runID, agentType, tracePath, runDir, memoryRoot string) string {
	return fmt.Sprintf(syncLeadPromptTemplate, runID, agentType, tracePath, runDir, memoryRoot, tracePath)
}

const maintainLeadPromptTemplate = `You are the maintenance agent for the memory tree at %s.
Run folder: %s

Access statistics (memory id: last accessed, access count):
%s

Decay policy, applied per memory:
  effective_confidence = confidence * max(%.2f, 1 - days_since_last_access / %d)
A memory with no access record uses days since its created date instead.
A memory accessed within the last %d days is in its grace period and MUST NOT
be archived, whatever its effective confidence.

Review the active decisions/ and learnings/ files (read, glob, grep, explore) and:
- merge near-duplicates (token overlap >= 0.72) into one file via edit,
  then count the absorbed file merged
- archive memories whose effective confidence fell below %.2f by rewriting
  them under archived/ via write and noting both paths in the action
- consolidate clusters of related memories into one richer file
- leave everything else unchanged and count it unchanged

Summary files are never edited, moved, or archived.

Finally write maintain_actions.json in the run folder:
  {"counts": {"merged": N, "archived": N, "consolidated": N, "decayed": N,
   "unchanged": N},
   "actions": [{"type": "...", "source_path": "...", "target_path": "...",
   "reason": "..."}]}

Reply with a one-paragraph report when done.`

// archiveThreshold is the effective-confidence floor below which maintain is
// told to archive.
const archiveThreshold = 0.3

// BuildMaintainPrompt renders the maintain agent's instructions, embedding
// the current access statistics and the decay rules.
func BuildMaintainPrompt(memoryRoot, runDir string, stats map[string]models.AccessRecord, policy access.Policy) string {
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		rec := stats[id]
		fmt.Fprintf(&sb, "  %s: %s, %d\n", id, rec.LastAccessed.Format(time.RFC3339), rec.AccessCount)
	}
	if sb.Len() == 0 {
		sb.WriteString("  (no access records)\n")
	}

	return fmt.Sprintf(maintainLeadPromptTemplate,
		memoryRoot, runDir, strings.TrimRight(sb.String(), "\n"),
		policy.MinFloor, policy.DecayDays, policy.GraceDays, archiveThreshold)
}

const chatPromptTemplate = `You answer questions about the user's coding-agent memory.
Memory root: %s

Use read, glob, and grep to consult the decisions/, learnings/, and summaries/
files; delegate broad scans to explore. Cite memory ids when you rely on them.
Answer with at most %d supporting memories.

Question: %s`

// BuildChatPrompt renders the read-only chat agent's instructions.
func BuildChatPrompt(memoryRoot, question string, limit int) string {
	if limit <= 0 {
		limit = 5
	}
	return fmt.Sprintf(chatPromptTemplate, memoryRoot, limit, question)
}
