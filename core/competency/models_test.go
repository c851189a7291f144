package competency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"
)

var testScale = Scale{
	ID:   1,
	Name: "test",
	Items: []ScaleItem{
		{Name: "Not yet", Proficient: false},
		{Name: "Good", Proficient: true},
	},
}

func TestScaleGrades(t *testing.T) {
	assert.False(t, testScale.IsValidGrade(0))
	assert.True(t, testScale.IsValidGrade(1))
	assert.True(t, testScale.IsValidGrade(2))
	assert.False(t, testScale.IsValidGrade(3))

	prof, err := testScale.Proficiency(1)
	assert.NoError(t, err)
	assert.False(t, prof)

	prof, err = testScale.Proficiency(2)
	assert.NoError(t, err)
	assert.True(t, prof)

	_, err = testScale.Proficiency(3)
	assert.Error(t, err)

	assert.Equal(t, "Good", testScale.GradeName(2))
	assert.Equal(t, "", testScale.GradeName(9))
}

func TestRatingValidate(t *testing.T) {
	// blank: ok
	assert.NoError(t, Rating{}.Validate(testScale))

	// both set: ok
	rat := Rating{Grade: null.IntFrom(2), Proficiency: null.BoolFrom(true)}
	assert.NoError(t, rat.Validate(testScale))

	// grade without proficiency
	rat = Rating{Grade: null.IntFrom(2)}
	assert.Error(t, rat.Validate(testScale))

	// proficiency without grade
	rat = Rating{Proficiency: null.BoolFrom(true)}
	assert.Error(t, rat.Validate(testScale))

	// grade off the scale
	rat = Rating{Grade: null.IntFrom(3), Proficiency: null.BoolFrom(true)}
	assert.Error(t, rat.Validate(testScale))
}

func TestCourseModuleIsAssignment(t *testing.T) {
	assert.True(t, CourseModule{ModName: "assign"}.IsAssignment())
	assert.False(t, CourseModule{ModName: "quiz"}.IsAssignment())
}
