package services

import (
	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

func (suite *EngineTestSuite) fieldRequest(f *models.MetaField) *MetaFieldRequest {
	return &MetaFieldRequest{
		ParentID: f.ParentID,
		ModelID:  f.ModelID,
		Name:     f.Name,
		Nullable: f.Nullable,
		Multiple: f.Multiple,
		Hidden:   f.Hidden,
		Ordering: f.Ordering,
		HelpText: f.HelpText,
	}
}

func (suite *EngineTestSuite) TestMandatoryFieldNeedsDefault() {
	c := suite.catalog()
	phones := []*models.InstanceModel{
		suite.create(c.phone, nil),
		suite.create(c.phone, nil),
		suite.create(c.phone, nil),
	}

	req := suite.fieldRequest(c.ram)
	req.Nullable = false
	_, err := suite.engine.MetaFields.Update(suite.ctx, c.ram.ID, req)
	suite.True(errors.IsSchemaViolation(err))

	field, err := suite.engine.Registry.FieldByID(suite.db, c.ram.ID)
	suite.Require().NoError(err)
	suite.True(field.Nullable)

	req.Default = 2048
	result, err := suite.engine.MetaFields.Update(suite.ctx, c.ram.ID, req)
	suite.Require().NoError(err)
	suite.Equal(3, result.Backfilled)

	for _, phone := range phones {
		suite.Equal(int64(2048), suite.get(phone, "ram"))
		suite.Equal(int64(1), suite.count(&models.InstanceField{}, "parent_id = ? AND field_id = ?", phone.ID, c.ram.ID))
	}
	// each phone owns its own copy
	suite.Equal(int64(3), suite.count(&models.InstanceModel{}, "model_id = ?", c.ram.ModelID))
}

func (suite *EngineTestSuite) TestBackfillSkipsFilledInstances() {
	c := suite.catalog()
	filled := suite.create(c.phone, map[string]interface{}{"ram": 1024})
	empty := suite.create(c.phone, nil)

	req := suite.fieldRequest(c.ram)
	req.Nullable = false
	req.Default = 512
	result, err := suite.engine.MetaFields.Update(suite.ctx, c.ram.ID, req)
	suite.Require().NoError(err)
	suite.Equal(1, result.Backfilled)

	suite.Equal(int64(1024), suite.get(filled, "ram"))
	suite.Equal(int64(512), suite.get(empty, "ram"))
}

func (suite *EngineTestSuite) TestUnexpectedDefaultIsRejected() {
	c := suite.catalog()

	req := suite.fieldRequest(c.ram)
	req.HelpText = "memory in MB"
	req.Default = 2048
	_, err := suite.engine.MetaFields.Update(suite.ctx, c.ram.ID, req)
	suite.True(errors.IsSchemaViolation(err))
}

func (suite *EngineTestSuite) TestDeletingCells() {
	c := suite.catalog()

	req := suite.fieldRequest(c.ram)
	req.Nullable = false
	_, err := suite.engine.MetaFields.Update(suite.ctx, c.ram.ID, req)
	suite.Require().NoError(err)

	phone := suite.create(c.phone, map[string]interface{}{"ram": 4096, "colors": []interface{}{c.red, c.blue}})

	colors, err := suite.engine.Fields.List(suite.ctx, phone.ID, c.colors.ID)
	suite.Require().NoError(err)
	suite.Require().Len(colors, 2)
	suite.Require().NoError(suite.engine.Fields.Delete(suite.ctx, &colors[0]))

	remaining := suite.get(phone, "colors").([]interface{})
	suite.Require().Len(remaining, 1)
	suite.Equal(c.blue.ID, remaining[0].(*models.InstanceModel).ID)
	// the shared color itself survives
	suite.Equal(int64(2), suite.count(&models.InstanceModel{}, "model_id = ?", c.color.ID))

	ram, err := suite.engine.Fields.List(suite.ctx, phone.ID, c.ram.ID)
	suite.Require().NoError(err)
	suite.Require().Len(ram, 1)
	err = suite.engine.Fields.Delete(suite.ctx, &ram[0])
	suite.True(errors.IsIntegrityViolation(err))
	suite.Equal(int64(4096), suite.get(phone, "ram"))
}

func (suite *EngineTestSuite) TestDeleteFieldRemovesOwnedValues() {
	c := suite.catalog()
	suite.setOrdering(c.phone, "")
	for _, ram := range []int{1024, 2048} {
		suite.create(c.phone, map[string]interface{}{"ram": ram})
	}
	suite.Equal(int64(2), suite.count(&models.InstanceModel{}, "model_id = ?", c.ram.ModelID))

	_, err := suite.engine.MetaModels.Update(suite.ctx, c.phone.ID, &UpdateMetaModelRequest{UnicodeTemplate: ptr("Phone")})
	suite.Require().NoError(err)

	suite.Require().NoError(suite.engine.MetaFields.Delete(suite.ctx, c.ram.ID))
	suite.Zero(suite.count(&models.InstanceModel{}, "model_id = ?", c.ram.ModelID))
	suite.Zero(suite.count(&models.InstanceField{}, "field_id = ?", c.ram.ID))

	_, ok, err := suite.engine.Registry.Field(suite.db, c.phone.ID, "ram")
	suite.Require().NoError(err)
	suite.False(ok)
}

func (suite *EngineTestSuite) TestDeleteFieldUsedBySchemaIsRejected() {
	c := suite.catalog()

	// ram orders phones
	err := suite.engine.MetaFields.Delete(suite.ctx, c.ram.ID)
	suite.True(errors.IsSchemaViolation(err))

	// and the template still renders it
	suite.setOrdering(c.phone, "")
	err = suite.engine.MetaFields.Delete(suite.ctx, c.ram.ID)
	suite.True(errors.IsSchemaViolation(err))
}

func (suite *EngineTestSuite) TestFieldSchemaRules() {
	c := suite.catalog()
	integer := suite.primitive(models.KindInteger)

	cases := []struct {
		name string
		req  *MetaFieldRequest
	}{
		{"reserved name", &MetaFieldRequest{ParentID: c.phone.ID, ModelID: integer.ID, Name: "unicode", Nullable: true}},
		{"not an identifier", &MetaFieldRequest{ParentID: c.phone.ID, ModelID: integer.ID, Name: "screen-size", Nullable: true}},
		{"duplicate name", &MetaFieldRequest{ParentID: c.phone.ID, ModelID: integer.ID, Name: "ram", Nullable: true}},
		{"hidden and required", &MetaFieldRequest{ParentID: c.phone.ID, ModelID: integer.ID, Name: "sku", Hidden: true}},
		{"primitive parent", &MetaFieldRequest{ParentID: integer.ID, ModelID: integer.ID, Name: "digits", Nullable: true}},
	}
	for _, tc := range cases {
		_, err := suite.engine.MetaFields.Create(suite.ctx, tc.req)
		suite.True(errors.IsSchemaViolation(err), tc.name)
	}

	narrow := suite.fieldRequest(c.colors)
	narrow.Multiple = false
	_, err := suite.engine.MetaFields.Update(suite.ctx, c.colors.ID, narrow)
	suite.True(errors.IsSchemaViolation(err))

	retarget := suite.fieldRequest(c.ram)
	retarget.ModelID = suite.primitive(models.KindDecimal).ID
	_, err = suite.engine.MetaFields.Update(suite.ctx, c.ram.ID, retarget)
	suite.True(errors.IsSchemaViolation(err))

	move := suite.fieldRequest(c.ram)
	move.ParentID = c.color.ID
	_, err = suite.engine.MetaFields.Update(suite.ctx, c.ram.ID, move)
	suite.True(errors.IsSchemaViolation(err))

	hidden := &MetaFieldRequest{ParentID: c.phone.ID, ModelID: integer.ID, Name: "sku", Hidden: true, Nullable: true}
	_, err = suite.engine.MetaFields.Create(suite.ctx, hidden)
	suite.NoError(err)
}

func ptr(s string) *string {
	return &s
}
