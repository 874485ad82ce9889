// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package healing runs self-healing code generation sessions.
//
// A session turns a natural-language task into a small project with tests
// and repairs it until the tests pass or MaxAttempts is reached:
//
//	detect_language -> setup_workspace -> generate -> write -> test
//	                                         ^                  |
//	                                         +----- retry <-----+
//
// Each completed step produces an Event. Orchestrator.Heal returns the final
// Session; Orchestrator.Stream also delivers the events as they happen.
//
// Subpackages:
//
//	language - the closed set of supported languages
//	files    - parsing model output into files and writing them safely
//	runner   - per-language test execution, locally or in Docker
//	prompts  - embedded prompt templates with on-disk overrides
package healing
