package pom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-build/crucible/internal/coordinate"
)

const simplePOM = `<project>
  <groupId>com.example</groupId>
  <artifactId>widget</artifactId>
  <version>1.0</version>
  <packaging>jar</packaging>
  <dependencies>
    <dependency>
      <groupId>com.google.guava</groupId>
      <artifactId>guava</artifactId>
      <version>33.0.0-jre</version>
    </dependency>
  </dependencies>
</project>`

func noParentFetcher(string, string, string) ([]byte, error) {
	return nil, fmt.Errorf("no parent expected")
}

func TestParseOne_And_Resolve_SimplePOM(t *testing.T) {
	raw, err := ParseOne([]byte(simplePOM))
	require.NoError(t, err)

	_, hasParent := raw.Parent()
	assert.False(t, hasParent)

	proj, err := Resolve(raw, noParentFetcher)
	require.NoError(t, err)
	assert.Equal(t, coordinate.ID{Group: "com.example", Name: "widget", Version: "1.0", Type: "jar"}, proj.ID)
	assert.Equal(t, "jar", proj.PackagingOrDefault())
	require.Len(t, proj.Dependencies, 1)
	assert.Equal(t, "com.google.guava", proj.Dependencies[0].ID.Group)
	// Scope is left undeclared here; defaulting to "compile" only happens
	// once dependencyManagement has had its chance to apply (DefaultScope).
	assert.Equal(t, coordinate.Scope(""), proj.Dependencies[0].Scope)
	assert.Equal(t, coordinate.ScopeCompile, DefaultScope(proj.Dependencies[0]).Scope)
}

func TestProject_PackagingOrDefault_DefaultsToJar(t *testing.T) {
	assert.Equal(t, "jar", Project{}.PackagingOrDefault())
	assert.Equal(t, "war", Project{Packaging: "war"}.PackagingOrDefault())
}

const parentPOM = `<project>
  <groupId>com.example</groupId>
  <artifactId>parent</artifactId>
  <version>1.0</version>
  <properties>
    <guava.version>33.0.0-jre</guava.version>
  </properties>
  <dependencyManagement>
    <dependencies>
      <dependency>
        <groupId>com.google.guava</groupId>
        <artifactId>guava</artifactId>
        <version>${guava.version}</version>
      </dependency>
    </dependencies>
  </dependencyManagement>
</project>`

const childPOM = `<project>
  <parent>
    <groupId>com.example</groupId>
    <artifactId>parent</artifactId>
    <version>1.0</version>
  </parent>
  <artifactId>child</artifactId>
  <version>2.0</version>
  <dependencies>
    <dependency>
      <groupId>com.google.guava</groupId>
      <artifactId>guava</artifactId>
    </dependency>
  </dependencies>
</project>`

func TestResolve_InheritsPropertiesFromParent(t *testing.T) {
	raw, err := ParseOne([]byte(childPOM))
	require.NoError(t, err)

	parentRef, ok := raw.Parent()
	require.True(t, ok)
	assert.Equal(t, "com.example", parentRef.GroupID)
	assert.Equal(t, "parent", parentRef.ArtifactID)

	fetchParent := func(groupID, artifactID, version string) ([]byte, error) {
		assert.Equal(t, "com.example", groupID)
		assert.Equal(t, "parent", artifactID)
		assert.Equal(t, "1.0", version)
		return []byte(parentPOM), nil
	}

	proj, err := Resolve(raw, fetchParent)
	require.NoError(t, err)
	assert.Equal(t, "com.example", proj.ID.Group)
	assert.Equal(t, "child", proj.ID.Name)
	assert.Equal(t, "2.0", proj.ID.Version)
	require.Len(t, proj.DependencyManagement, 1)
	assert.Equal(t, "33.0.0-jre", proj.DependencyManagement[0].ID.Version)
}

func TestResolve_DetectsCyclicParentChain(t *testing.T) {
	cyclic := `<project>
  <parent>
    <groupId>com.example</groupId>
    <artifactId>self</artifactId>
    <version>1.0</version>
  </parent>
  <artifactId>self</artifactId>
  <version>1.0</version>
</project>`
	raw, err := ParseOne([]byte(cyclic))
	require.NoError(t, err)

	fetchParent := func(string, string, string) ([]byte, error) {
		return []byte(cyclic), nil
	}
	_, err = Resolve(raw, fetchParent)
	assert.Error(t, err)
}

func TestResolve_FetchParentErrorPropagates(t *testing.T) {
	raw, err := ParseOne([]byte(childPOM))
	require.NoError(t, err)
	_, err = Resolve(raw, noParentFetcher)
	assert.Error(t, err)
}

func TestParseOne_InvalidXMLErrors(t *testing.T) {
	_, err := ParseOne([]byte("not xml"))
	assert.Error(t, err)
}

func TestApplyManagement_FillsVersionWhenUnset(t *testing.T) {
	management := []coordinate.Dependency{
		{ID: coordinate.ID{Group: "com.google.guava", Name: "guava", Version: "33.0.0-jre", Type: "jar"}, Scope: coordinate.ScopeCompile},
	}
	d := coordinate.Dependency{ID: coordinate.ID{Group: "com.google.guava", Name: "guava", Type: "jar"}}

	applied := ApplyManagement(d, management)
	assert.Equal(t, "33.0.0-jre", applied.ID.Version)
	assert.Equal(t, coordinate.ScopeCompile, applied.Scope)
}

func TestApplyManagement_DoesNotOverrideExplicitVersion(t *testing.T) {
	management := []coordinate.Dependency{
		{ID: coordinate.ID{Group: "g", Name: "a", Version: "2.0", Type: "jar"}},
	}
	d := coordinate.Dependency{ID: coordinate.ID{Group: "g", Name: "a", Version: "1.0", Type: "jar"}}

	applied := ApplyManagement(d, management)
	assert.Equal(t, "1.0", applied.ID.Version)
}

func TestApplyManagement_NoMatchReturnsUnchanged(t *testing.T) {
	d := coordinate.Dependency{ID: coordinate.ID{Group: "g", Name: "a", Version: "1.0", Type: "jar"}}
	applied := ApplyManagement(d, nil)
	assert.Equal(t, d, applied)
}

func TestApplyManagement_OverridesScopeWhenDependencyLeavesItUnset(t *testing.T) {
	management := []coordinate.Dependency{
		{ID: coordinate.ID{Group: "g", Name: "a", Type: "jar"}, Scope: coordinate.ScopeProvided},
	}
	d := coordinate.Dependency{ID: coordinate.ID{Group: "g", Name: "a", Version: "1.0", Type: "jar"}}

	applied := ApplyManagement(d, management)
	assert.Equal(t, coordinate.ScopeProvided, applied.Scope)
}

func TestApplyManagement_DoesNotOverrideExplicitScope(t *testing.T) {
	management := []coordinate.Dependency{
		{ID: coordinate.ID{Group: "g", Name: "a", Type: "jar"}, Scope: coordinate.ScopeProvided},
	}
	d := coordinate.Dependency{ID: coordinate.ID{Group: "g", Name: "a", Version: "1.0", Type: "jar"}, Scope: coordinate.ScopeTest}

	applied := ApplyManagement(d, management)
	assert.Equal(t, coordinate.ScopeTest, applied.Scope)
}

func TestApplyManagement_AppliesOptionalWhenDependencyDoesNotDeclareIt(t *testing.T) {
	management := []coordinate.Dependency{
		{ID: coordinate.ID{Group: "g", Name: "a", Type: "jar"}, Optional: true},
	}
	d := coordinate.Dependency{ID: coordinate.ID{Group: "g", Name: "a", Version: "1.0", Type: "jar"}}

	applied := ApplyManagement(d, management)
	assert.True(t, applied.Optional)
}

func TestApplyManagement_DoesNotClearExplicitOptional(t *testing.T) {
	management := []coordinate.Dependency{
		{ID: coordinate.ID{Group: "g", Name: "a", Type: "jar"}, Optional: false},
	}
	d := coordinate.Dependency{ID: coordinate.ID{Group: "g", Name: "a", Version: "1.0", Type: "jar"}, Optional: true}

	applied := ApplyManagement(d, management)
	assert.True(t, applied.Optional)
}

func TestDefaultScope_FillsOnlyWhenUnset(t *testing.T) {
	d := coordinate.Dependency{}
	assert.Equal(t, coordinate.ScopeCompile, DefaultScope(d).Scope)

	withScope := coordinate.Dependency{Scope: coordinate.ScopeTest}
	assert.Equal(t, coordinate.ScopeTest, DefaultScope(withScope).Scope)
}

func TestResolve_UnresolvedPlaceholderLeftVerbatim(t *testing.T) {
	raw, err := ParseOne([]byte(`<project>
  <groupId>g</groupId>
  <artifactId>a</artifactId>
  <version>${undefined.prop}</version>
</project>`))
	require.NoError(t, err)
	proj, err := Resolve(raw, noParentFetcher)
	require.NoError(t, err)
	assert.Equal(t, "${undefined.prop}", proj.ID.Version)
}
