package services

import (
	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

func (suite *EngineTestSuite) TestCreateModelRules() {
	suite.createModel("Brand", "{{.name}}", "unicode")

	for name, req := range map[string]*CreateMetaModelRequest{
		"duplicate":       {Name: "Brand"},
		"primitive":       {Name: "CharField"},
		"primitive-like":  {Name: "ColourField"},
		"bad identifier":  {Name: "Smart Watch"},
		"broken template": {Name: "Watch", UnicodeTemplate: "{{.name"},
		"bad ordering":    {Name: "Watch", OrderingField: "name,-price"},
	} {
		_, err := suite.engine.MetaModels.Create(suite.ctx, req)
		suite.True(errors.IsSchemaViolation(err), name)
	}
}

func (suite *EngineTestSuite) TestUpdateModelChecksReferences() {
	c := suite.catalog()

	_, err := suite.engine.MetaModels.Update(suite.ctx, c.phone.ID, &UpdateMetaModelRequest{OrderingField: ptr("weight")})
	suite.True(errors.IsSchemaViolation(err))

	_, err = suite.engine.MetaModels.Update(suite.ctx, c.phone.ID, &UpdateMetaModelRequest{OrderingField: ptr("colors")})
	suite.True(errors.IsSchemaViolation(err))

	_, err = suite.engine.MetaModels.Update(suite.ctx, c.phone.ID, &UpdateMetaModelRequest{UnicodeTemplate: ptr("{{.weight}}")})
	suite.True(errors.IsSchemaViolation(err))

	_, err = suite.engine.MetaModels.Update(suite.ctx, suite.primitive(models.KindChar).ID, &UpdateMetaModelRequest{Name: ptr("Text")})
	suite.True(errors.IsSchemaViolation(err))

	renamed, err := suite.engine.MetaModels.Update(suite.ctx, c.phone.ID, &UpdateMetaModelRequest{Name: ptr("Handset")})
	suite.Require().NoError(err)
	suite.Equal("Handset", renamed.Name)

	byName, err := suite.engine.MetaModels.GetByName(suite.ctx, "Handset")
	suite.Require().NoError(err)
	suite.Equal(c.phone.ID, byName.ID)
}

func (suite *EngineTestSuite) TestTemplateChangeRecomputesInstances() {
	c := suite.catalog()
	phone := suite.create(c.phone, map[string]interface{}{"ram": 4096})
	suite.saved = nil

	_, err := suite.engine.MetaModels.Update(suite.ctx, c.phone.ID, &UpdateMetaModelRequest{UnicodeTemplate: ptr("{{.ram}} MB phone")})
	suite.Require().NoError(err)
	suite.Equal("4096 MB phone", suite.reload(phone).DisplayString())
	suite.Require().Len(suite.saved, 1)
	suite.Equal(phone.ID, suite.saved[0].InstanceID)
}

func (suite *EngineTestSuite) TestDeleteModel() {
	c := suite.catalog()
	suite.create(c.phone, map[string]interface{}{"ram": 4096, "colors": []interface{}{c.red}})

	// colors still point at Color
	err := suite.engine.MetaModels.Delete(suite.ctx, c.color.ID)
	suite.True(errors.IsSchemaViolation(err))

	err = suite.engine.MetaModels.Delete(suite.ctx, suite.primitive(models.KindInteger).ID)
	suite.True(errors.IsSchemaViolation(err))

	suite.Require().NoError(suite.engine.MetaModels.Delete(suite.ctx, c.phone.ID))
	suite.Zero(suite.count(&models.InstanceModel{}, "model_id = ?", c.phone.ID))
	suite.Zero(suite.count(&models.InstanceModel{}, "model_id = ?", c.ram.ModelID))
	suite.Zero(suite.count(&models.MetaField{}, "parent_id = ?", c.phone.ID))
	suite.Equal(int64(2), suite.count(&models.InstanceModel{}, "model_id = ?", c.color.ID))

	_, err = suite.engine.MetaModels.Get(suite.ctx, c.phone.ID)
	suite.True(errors.IsNotFound(err))

	all, err := suite.engine.MetaModels.List(suite.ctx)
	suite.Require().NoError(err)
	suite.Len(all, len(models.Kinds)+1)
}
