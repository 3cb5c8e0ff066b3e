package services

import (
	"github.com/google/uuid"

	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

func (suite *EngineTestSuite) TestDescribeForm() {
	c := suite.catalog()
	suite.createField(c.phone, suite.primitive(models.KindChar), "sku", true, false)
	hidden := &MetaFieldRequest{ParentID: c.phone.ID, ModelID: suite.primitive(models.KindChar).ID, Name: "internal_note", Hidden: true, Nullable: true}
	_, err := suite.engine.MetaFields.Create(suite.ctx, hidden)
	suite.Require().NoError(err)

	descriptors, err := suite.engine.Forms.Describe(suite.ctx, c.phone.ID)
	suite.Require().NoError(err)
	suite.Require().Len(descriptors, 3)

	byName := map[string]FieldDescriptor{}
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	suite.NotContains(byName, "internal_note")

	ram := byName["ram"]
	suite.Equal("integer", ram.Widget)
	suite.Equal(string(models.KindInteger), ram.TargetModel)
	suite.False(ram.Required)
	suite.Empty(ram.Choices)

	colors := byName["colors"]
	suite.Equal("multiselect", colors.Widget)
	suite.True(colors.Multiple)
	suite.Equal("Color", colors.TargetModel)
	suite.Equal([]Choice{
		{ID: c.blue.ID, Label: "Blue"},
		{ID: c.red.ID, Label: "Red"},
	}, colors.Choices)

	colorForm, err := suite.engine.Forms.Describe(suite.ctx, c.color.ID)
	suite.Require().NoError(err)
	suite.Require().Len(colorForm, 1)
	suite.True(colorForm[0].Required)
	suite.Equal("text", colorForm[0].Widget)
}

func (suite *EngineTestSuite) TestBindValues() {
	c := suite.catalog()

	values, err := suite.engine.Forms.BindValues(suite.ctx, c.phone.ID, map[string][]string{
		"ram":    {" 8192 "},
		"colors": {c.red.ID.String(), "", c.blue.ID.String()},
		"bogus":  {"ignored"},
	})
	suite.Require().NoError(err)
	suite.Equal(int64(8192), values["ram"])
	suite.Equal([]interface{}{c.red.ID, c.blue.ID}, values["colors"])
	suite.NotContains(values, "bogus")

	phone, err := suite.engine.Instances.Create(suite.ctx, c.phone.ID, values, SaveOptions{})
	suite.Require().NoError(err)
	suite.Equal("Phone 8192 MB", phone.DisplayString())

	blank, err := suite.engine.Forms.BindValues(suite.ctx, c.phone.ID, map[string][]string{})
	suite.Require().NoError(err)
	suite.Nil(blank["ram"])
	suite.Equal([]interface{}{}, blank["colors"])
}

func (suite *EngineTestSuite) TestBindValuesReportsErrors() {
	c := suite.catalog()

	_, err := suite.engine.Forms.BindValues(suite.ctx, c.phone.ID, map[string][]string{
		"ram":    {"lots"},
		"colors": {"not-a-uuid"},
	})
	suite.Require().Error(err)
	suite.True(errors.IsTypeCoercion(err))
	suite.Contains(err.Error(), "colors")

	_, err = suite.engine.Forms.BindValues(suite.ctx, c.color.ID, map[string][]string{"name": {"  "}})
	suite.True(errors.IsSchemaViolation(err))

	_, err = suite.engine.Forms.BindValues(suite.ctx, c.phone.ID, map[string][]string{"colors": {uuid.NewString()}})
	suite.NoError(err)
}
