// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tcc

import "testing"

func TestStepOrder(t *testing.T) {
	// 全序固定：initialization → … → completed
	want := []OrchestrationStep{
		StepInitialization,
		StepPlanningSignatures,
		StepDesigningState,
		StepDesigningLayout,
		StepApplyingStyling,
		StepAssembling,
		StepValidating,
		StepFinalizing,
		StepCompleted,
	}
	got := Steps()
	if len(got) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestStepNext(t *testing.T) {
	next, ok := StepInitialization.Next()
	if !ok || next != StepPlanningSignatures {
		t.Errorf("Next(initialization): got %s ok=%v", next, ok)
	}
	next, ok = StepFinalizing.Next()
	if !ok || next != StepCompleted {
		t.Errorf("Next(finalizing): got %s ok=%v", next, ok)
	}
	if _, ok := StepCompleted.Next(); ok {
		t.Error("Next(completed) should not advance")
	}
	if _, ok := OrchestrationStep("bogus").Next(); ok {
		t.Error("Next(bogus) should not advance")
	}
}

func TestStepNextNeverSkips(t *testing.T) {
	// 逐级推进必须不跳步、不回退
	steps := Steps()
	for i := 0; i < len(steps)-1; i++ {
		next, ok := steps[i].Next()
		if !ok {
			t.Fatalf("Next(%s): expected ok", steps[i])
		}
		if next.Index() != steps[i].Index()+1 {
			t.Errorf("Next(%s) skipped to %s", steps[i], next)
		}
	}
}

func TestStepIsTerminal(t *testing.T) {
	if !StepCompleted.IsTerminal() {
		t.Error("completed should be terminal")
	}
	if StepFinalizing.IsTerminal() {
		t.Error("finalizing should not be terminal")
	}
}

func TestParseStep(t *testing.T) {
	s, err := ParseStep("designing_layout")
	if err != nil || s != StepDesigningLayout {
		t.Errorf("ParseStep: got %s, %v", s, err)
	}
	if _, err := ParseStep("no_such_step"); err == nil {
		t.Error("ParseStep should reject unknown step")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []StepStatus{StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusPaused} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if StepStatus("cancelled").Valid() {
		t.Error("cancelled is not a valid status")
	}
}
