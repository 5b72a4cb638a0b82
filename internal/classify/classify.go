// Package classify labels atoms under a (model, promptVersionId)
// spec, either with the deterministic stub or through an LLM call.
// Idempotent: an existing label is never overwritten.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/chronicle/internal/hashing"
	"github.com/untoldecay/chronicle/internal/idgen"
	"github.com/untoldecay/chronicle/internal/llm"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
)

// pageSize caps the keyset pages iterated over a batch's unlabeled
// atoms.
const pageSize = 10000

// stubSeedVersionLabel marks the seeded stub classify prompt version,
// which real mode must not use.
const stubSeedVersionLabel = "stub_v1"

// Input parameterises one classify invocation.
type Input struct {
	ImportBatchID   string
	Model           string
	PromptVersionID string
	Mode            types.ClassifyMode
	// Client performs the provider calls in real mode; unused for stub.
	Client *llm.Client
}

// ClassifyBatch labels every unlabeled atom of a batch under the
// (model, promptVersionId) spec and persists a ClassifyRun stats row.
func ClassifyBatch(ctx context.Context, store storage.Storage, in Input) (*types.ClassifyRun, error) {
	if _, err := store.GetImportBatch(ctx, in.ImportBatchID); err != nil {
		return nil, err
	}
	pv, err := store.GetPromptVersion(ctx, in.PromptVersionID)
	if err != nil {
		return nil, err
	}
	if in.Mode == types.ClassifyReal {
		if pv.Stage != types.StageClassify {
			return nil, types.Invalidf("prompt version %s has stage %q, want classify", pv.ID, pv.Stage)
		}
		if pv.VersionLabel == stubSeedVersionLabel {
			return nil, types.Invalidf("the stub seed prompt version cannot be used in real mode")
		}
		if !strings.Contains(pv.TemplateText, "category") || !strings.Contains(pv.TemplateText, "confidence") {
			return nil, types.Invalidf("classify template must reference both category and confidence")
		}
	}

	spec := types.LabelSpec{Model: in.Model, PromptVersionID: in.PromptVersionID}
	total, err := store.CountAtoms(ctx, in.ImportBatchID)
	if err != nil {
		return nil, err
	}
	already, err := store.CountLabeledAtoms(ctx, in.ImportBatchID, spec)
	if err != nil {
		return nil, err
	}

	cr := &types.ClassifyRun{
		ID:                    idgen.New("cls"),
		ImportBatchID:         in.ImportBatchID,
		Model:                 in.Model,
		PromptVersionID:       in.PromptVersionID,
		Mode:                  in.Mode,
		Status:                "completed",
		TotalAtoms:            total,
		SkippedAlreadyLabeled: already,
		StartedAt:             time.Now(),
	}

	// Short-circuit when every atom is already labeled for this spec.
	if already >= total {
		cr.LabeledTotal = already
		finishClassifyRun(cr)
		if err := store.CreateClassifyRun(ctx, cr); err != nil {
			return nil, err
		}
		return cr, nil
	}

	afterID := ""
	for {
		page, err := store.ListUnlabeledAtoms(ctx, in.ImportBatchID, spec, afterID, pageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		labels := make([]*types.MessageLabel, 0, len(page))
		now := time.Now()
		for _, atom := range page {
			var category types.Category
			var confidence float64
			switch in.Mode {
			case types.ClassifyStub:
				category, confidence = stubLabel(atom)
			case types.ClassifyReal:
				var cost float64
				category, confidence, cost, err = realLabel(ctx, in.Client, pv.TemplateText, in.Model, atom)
				if err != nil {
					return nil, err
				}
				cr.CostUsd += cost
			default:
				return nil, types.Invalidf("unknown classify mode %q", in.Mode)
			}
			labels = append(labels, &types.MessageLabel{
				MessageAtomID:   atom.ID,
				Model:           in.Model,
				PromptVersionID: in.PromptVersionID,
				Category:        category,
				Confidence:      confidence,
				CreatedAt:       now,
			})
		}

		inserted, err := store.InsertLabels(ctx, labels)
		if err != nil {
			return nil, err
		}
		cr.NewlyLabeled += inserted
		afterID = page[len(page)-1].ID
	}

	cr.LabeledTotal = already + cr.NewlyLabeled
	finishClassifyRun(cr)
	if err := store.CreateClassifyRun(ctx, cr); err != nil {
		return nil, err
	}
	return cr, nil
}

func finishClassifyRun(cr *types.ClassifyRun) {
	t := time.Now()
	cr.FinishedAt = &t
}

// stubLabel derives a deterministic category from the atom's stable
// id: the first 4 bytes of sha256(atomStableId), big-endian, mod 6
// index into the stub rotation. Confidence is always 0.5.
func stubLabel(atom *types.MessageAtom) (types.Category, float64) {
	n, err := hashing.HashToUint32(hashing.SHA256(atom.AtomStableID))
	if err != nil {
		// sha256 hex is always long enough
		panic(err)
	}
	return types.StubCategories[n%uint32(len(types.StubCategories))], 0.5
}

// realLabel asks the model for a strict JSON {category, confidence}
// verdict. Parse or schema failures are LlmBadOutputError,
// non-retriable for this atom within the run.
func realLabel(ctx context.Context, client *llm.Client, template, model string, atom *types.MessageAtom) (types.Category, float64, float64, error) {
	if client == nil {
		return "", 0, 0, types.Invalidf("real classify mode requires an LLM client")
	}
	user := fmt.Sprintf("source: %s\nrole: %s\ntext: %s", atom.Source, atom.Role, atom.Text)
	resp, cost, err := client.Call(ctx, llm.Request{
		Model:     model,
		System:    template,
		Messages:  []llm.Message{{Role: "user", Content: user}},
		MaxTokens: 128,
	})
	if err != nil {
		return "", 0, cost, err
	}

	var verdict struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	dec := json.NewDecoder(strings.NewReader(resp.Text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&verdict); err != nil {
		return "", 0, cost, &types.LlmBadOutputError{
			Message: fmt.Sprintf("classify response is not valid JSON: %v", err),
			Raw:     resp.Text,
		}
	}
	category := types.Category(strings.ToUpper(strings.TrimSpace(verdict.Category)))
	if !types.ValidCategory(category) {
		return "", 0, cost, &types.LlmBadOutputError{
			Message: fmt.Sprintf("classify response has unknown category %q", verdict.Category),
			Raw:     resp.Text,
		}
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return "", 0, cost, &types.LlmBadOutputError{
			Message: fmt.Sprintf("classify confidence %v outside [0,1]", verdict.Confidence),
			Raw:     resp.Text,
		}
	}
	return category, verdict.Confidence, cost, nil
}
