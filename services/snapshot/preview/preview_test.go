// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `diff --git a/config/server.properties b/config/server.properties
index 1111111..2222222 100644
--- a/config/server.properties
+++ b/config/server.properties
@@ -1,3 +1,3 @@
 motd=hello
-difficulty=hard
+difficulty=easy
 pvp=true
diff --git a/notes.txt b/notes.txt
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/notes.txt
@@ -0,0 +1,2 @@
+first
+second
diff --git a/level.dat b/level.dat
index 4444444..5555555 100644
Binary files a/level.dat and b/level.dat differ
diff --git a/old.txt b/old.txt
deleted file mode 100644
index 6666666..0000000
--- a/old.txt
+++ /dev/null
@@ -1 +0,0 @@
-gone
`

func TestSummarize(t *testing.T) {
	s, err := Summarize("aaaa", "bbbb", sampleDiff)
	require.NoError(t, err)

	assert.Equal(t, "aaaa", s.From)
	assert.Equal(t, "bbbb", s.To)
	require.Len(t, s.Files, 4)

	byPath := map[string]FileChange{}
	for _, f := range s.Files {
		byPath[f.Path] = f
	}

	props := byPath["config/server.properties"]
	assert.Equal(t, ChangeModified, props.Kind)
	assert.Equal(t, 1, props.Added)
	assert.Equal(t, 1, props.Deleted)

	notes := byPath["notes.txt"]
	assert.Equal(t, ChangeAdded, notes.Kind)
	assert.Equal(t, 2, notes.Added)

	level := byPath["level.dat"]
	assert.True(t, level.Binary)
	assert.Equal(t, ChangeModified, level.Kind)
	assert.Zero(t, level.Added)

	old := byPath["old.txt"]
	assert.Equal(t, ChangeDeleted, old.Kind)
	assert.Equal(t, 1, old.Deleted)

	assert.Equal(t, 3, s.Added)
	assert.Equal(t, 2, s.Deleted)
	assert.Equal(t, "config/server.properties", s.Files[0].Path, "sorted by path")
}

func TestSummarize_Empty(t *testing.T) {
	s, err := Summarize("a", "a", "")
	require.NoError(t, err)
	assert.True(t, s.Empty())
	assert.NotNil(t, s.Files)
}

func TestNamesFromHeader(t *testing.T) {
	oldName, newName := namesFromHeader([]string{"diff --git a/region/r.0.0.mca b/region/r.0.0.mca"})
	assert.Equal(t, "region/r.0.0.mca", oldName)
	assert.Equal(t, "region/r.0.0.mca", newName)

	oldName, newName = namesFromHeader([]string{"index 123..456"})
	assert.Empty(t, oldName)
	assert.Empty(t, newName)
}
