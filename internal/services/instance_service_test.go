package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

func (suite *EngineTestSuite) TestBootstrapIsIdempotent() {
	suite.Require().NoError(suite.engine.Registry.Bootstrap(suite.db))
	suite.Equal(int64(len(models.Kinds)), suite.count(&models.MetaModel{}, ""))

	primitives, err := suite.engine.Registry.PrimitiveModels(suite.db)
	suite.Require().NoError(err)
	suite.Len(primitives, len(models.Kinds))
}

func (suite *EngineTestSuite) TestBootstrapRejectsUnknownPrimitiveName() {
	suite.Require().NoError(suite.db.Create(&models.MetaModel{Name: "ColourField"}).Error)

	err := NewSchemaRegistry().Bootstrap(suite.db)
	suite.Error(err)
	suite.True(errors.Is(err, errors.ErrConfiguration))
}

func (suite *EngineTestSuite) TestPrimitiveOrderingValue() {
	red, err := suite.engine.Instances.CreatePrimitive(suite.ctx, models.KindChar, "Red", SaveOptions{})
	suite.Require().NoError(err)

	key, err := suite.engine.Instances.OrderingKey(suite.ctx, suite.reload(red))
	suite.Require().NoError(err)
	suite.True(key.IsText())
	suite.Equal("Red", key.String())

	stored := suite.reload(red)
	suite.Nil(stored.UnicodeRepresentation)
	suite.False(stored.DecimalValue.Valid)
	suite.Require().NotNil(stored.UnicodeValue)
	suite.Equal("Red", *stored.UnicodeValue)
	suite.NoError(suite.engine.Instances.Validate(suite.ctx, stored))
}

func (suite *EngineTestSuite) TestCompositeOrderingFollowsField() {
	c := suite.catalog()

	red := suite.reload(c.red)
	suite.Equal("Red", red.DisplayString())
	suite.Require().NotNil(red.UnicodeValue)
	suite.Equal("Red", *red.UnicodeValue)

	unicode := "unicode"
	_, err := suite.engine.MetaModels.Update(suite.ctx, c.color.ID, &UpdateMetaModelRequest{OrderingField: &unicode})
	suite.Require().NoError(err)

	key, err := suite.engine.Instances.OrderingKey(suite.ctx, suite.reload(c.blue))
	suite.Require().NoError(err)
	suite.Equal("Blue", key.String())
}

func (suite *EngineTestSuite) TestAttributeRoundTrip() {
	c := suite.catalog()
	phone := suite.create(c.phone, nil)

	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, phone, "ram", 4096))
	suite.Equal(int64(4096), suite.get(phone, "ram"))

	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, phone, "colors", []interface{}{c.red.ID, c.blue}))
	colors := suite.get(phone, "colors").([]interface{})
	suite.Require().Len(colors, 2)
	suite.Equal(c.red.ID, colors[0].(*models.InstanceModel).ID)
	suite.Equal(c.blue.ID, colors[1].(*models.InstanceModel).ID)

	// order is the order written
	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, phone, "colors", []*models.InstanceModel{c.blue, c.red}))
	colors = suite.get(phone, "colors").([]interface{})
	suite.Equal(c.blue.ID, colors[0].(*models.InstanceModel).ID)
	suite.Equal(c.red.ID, colors[1].(*models.InstanceModel).ID)

	// composites are shared, never copied
	suite.Equal(int64(2), suite.count(&models.InstanceModel{}, "model_id = ?", c.color.ID))
}

func (suite *EngineTestSuite) TestPrimitiveKindsRoundTrip() {
	m := suite.createModel("Sample", "", "")
	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	moment := time.Date(2024, 3, 9, 12, 30, 15, 0, time.UTC)

	cases := []struct {
		kind  models.Kind
		name  string
		value interface{}
		want  interface{}
	}{
		{models.KindBoolean, "flag", true, true},
		{models.KindChar, "label", "Pixel", "Pixel"},
		{models.KindDate, "released", day, day},
		{models.KindDateTime, "seen", moment, moment},
		{models.KindDecimal, "price", decimal.RequireFromString("199.5"), decimal.RequireFromString("199.5")},
		{models.KindFile, "manual", models.StoredFile{Path: "docs/manual.pdf"}, models.StoredFile{Path: "docs/manual.pdf"}},
		{models.KindInteger, "cores", 8, int64(8)},
	}
	for _, tc := range cases {
		suite.createField(m, suite.primitive(tc.kind), tc.name, true, false)
	}

	inst := suite.create(m, nil)
	for _, tc := range cases {
		suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, inst, tc.name, tc.value), tc.name)
		got := suite.get(inst, tc.name)
		if d, ok := tc.want.(decimal.Decimal); ok {
			suite.True(d.Equal(got.(decimal.Decimal)), tc.name)
			continue
		}
		if ts, ok := tc.want.(time.Time); ok {
			suite.True(ts.Equal(got.(time.Time)), tc.name)
			continue
		}
		suite.Equal(tc.want, got, tc.name)
	}

	// each primitive uses exactly one column
	var owned []models.InstanceModel
	suite.Require().NoError(suite.db.Where("model_id <> ?", m.ID).Find(&owned).Error)
	suite.Len(owned, len(cases))
	for _, o := range owned {
		suite.NotEqual(o.DecimalValue.Valid, o.UnicodeValue != nil)
		suite.Nil(o.UnicodeRepresentation)
	}
}

func (suite *EngineTestSuite) TestMultiplePrimitiveReplacesSet() {
	m := suite.createModel("Laptop", "", "")
	suite.createField(m, suite.primitive(models.KindInteger), "ports", true, true)
	inst := suite.create(m, map[string]interface{}{"ports": []int{1, 2, 3}})

	suite.Equal([]interface{}{int64(1), int64(2), int64(3)}, suite.get(inst, "ports"))

	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, inst, "ports", []int{7}))
	suite.Equal([]interface{}{int64(7)}, suite.get(inst, "ports"))

	// old owned scalars are gone
	integer := suite.primitive(models.KindInteger)
	suite.Equal(int64(1), suite.count(&models.InstanceModel{}, "model_id = ?", integer.ID))

	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, inst, "ports", nil))
	suite.Equal([]interface{}{}, suite.get(inst, "ports"))
}

func (suite *EngineTestSuite) TestGetOrCreateWithValueIsIdempotent() {
	c := suite.catalog()
	phone := suite.create(c.phone, nil)

	for i := 0; i < 2; i++ {
		cell, err := suite.engine.Fields.GetOrCreateWithValue(suite.ctx, phone, c.ram, 2048)
		suite.Require().NoError(err)
		suite.NotNil(cell)
	}
	suite.Equal(int64(1), suite.count(&models.InstanceField{}, "parent_id = ? AND field_id = ?", phone.ID, c.ram.ID))
	suite.Equal(int64(1), suite.count(&models.InstanceModel{}, "model_id = ?", c.ram.ModelID))

	// update in place keeps the owned scalar
	_, err := suite.engine.Fields.GetOrCreateWithValue(suite.ctx, phone, c.ram, 8192)
	suite.Require().NoError(err)
	suite.Equal(int64(8192), suite.get(phone, "ram"))
	suite.Equal(int64(1), suite.count(&models.InstanceModel{}, "model_id = ?", c.ram.ModelID))

	// nil deletes, and deleting nothing is a no-op
	for i := 0; i < 2; i++ {
		cell, err := suite.engine.Fields.GetOrCreateWithValue(suite.ctx, phone, c.ram, nil)
		suite.Require().NoError(err)
		suite.Nil(cell)
	}
	suite.Nil(suite.get(phone, "ram"))
	suite.Zero(suite.count(&models.InstanceModel{}, "model_id = ?", c.ram.ModelID))
}

func (suite *EngineTestSuite) TestTypeCoercionIsImmediate() {
	c := suite.catalog()
	phone := suite.create(c.phone, nil)

	err := suite.engine.Instances.SetAttribute(suite.ctx, phone, "ram", "lots")
	suite.True(errors.IsTypeCoercion(err))
	suite.Nil(suite.get(phone, "ram"))

	flag, err := suite.engine.Instances.CreatePrimitive(suite.ctx, models.KindBoolean, true, SaveOptions{})
	suite.Require().NoError(err)
	err = suite.engine.Instances.SetScalar(suite.ctx, flag, 1)
	suite.True(errors.IsTypeCoercion(err))

	v, err := suite.engine.Instances.Scalar(suite.ctx, flag)
	suite.Require().NoError(err)
	suite.Equal(true, v)
}

func (suite *EngineTestSuite) TestWrongCompositeModelIsRejected() {
	c := suite.catalog()
	phone := suite.create(c.phone, nil)
	other := suite.create(c.phone, nil)

	err := suite.engine.Instances.SetAttribute(suite.ctx, phone, "colors", []interface{}{other})
	suite.True(errors.IsIntegrityViolation(err))
	suite.Equal([]interface{}{}, suite.get(phone, "colors"))
}

func (suite *EngineTestSuite) TestRequiredFieldsAreEnforced() {
	c := suite.catalog()

	_, err := suite.engine.Instances.Create(suite.ctx, c.color.ID, nil, SaveOptions{})
	suite.True(errors.IsIntegrityViolation(err))
	suite.Equal(int64(2), suite.count(&models.InstanceModel{}, "model_id = ?", c.color.ID))

	err = suite.engine.Instances.SetAttribute(suite.ctx, c.red, "name", nil)
	suite.True(errors.IsIntegrityViolation(err))
	suite.Equal("Red", suite.get(c.red, "name"))
}

func (suite *EngineTestSuite) TestUnknownNamesFallBackToNativeAttributes() {
	c := suite.catalog()

	id := suite.get(c.red, "id")
	suite.Equal(c.red.ID, id)
	suite.Equal("Red", suite.get(c.red, "unicode"))

	_, err := suite.engine.Instances.GetAttribute(suite.ctx, c.red, "weight")
	suite.True(errors.Is(err, errors.ErrAttributeNotFound))

	err = suite.engine.Instances.SetAttribute(suite.ctx, c.red, "weight", 3)
	suite.True(errors.Is(err, errors.ErrAttributeNotFound))

	for _, name := range []string{"unicode", "id", "pk", "model_id", "created_at", "updated_at"} {
		err = suite.engine.Instances.SetAttribute(suite.ctx, c.red, name, "Crimson")
		suite.Truef(errors.IsSchemaViolation(err), "%s is writable", name)
	}
}

func (suite *EngineTestSuite) TestNativeColumnsAreAssignable() {
	c := suite.catalog()
	red := suite.reload(c.red)

	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, red, "unicode_representation", "Crimson"))
	suite.Equal("Crimson", red.DisplayString())
	suite.Equal("Crimson", suite.get(red, "unicode_representation"))

	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, red, models.ColumnDecimalValue, 42))
	suite.True(decimal.NewFromInt(42).Equal(suite.get(red, models.ColumnDecimalValue).(decimal.Decimal)))
	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, red, models.ColumnDecimalValue, nil))
	suite.Nil(suite.get(red, models.ColumnDecimalValue))

	label := "crimson"
	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, red, models.ColumnUnicodeValue, &label))
	suite.Equal("crimson", suite.get(red, models.ColumnUnicodeValue))

	err := suite.engine.Instances.SetAttribute(suite.ctx, red, models.ColumnDecimalValue, "many")
	suite.True(errors.IsTypeCoercion(err))
	err = suite.engine.Instances.SetAttribute(suite.ctx, red, models.ColumnUnicodeValue, 7)
	suite.True(errors.IsTypeCoercion(err))
	err = suite.engine.Instances.SetAttribute(suite.ctx, red, "unicode_representation", decimal.NewFromInt(1))
	suite.True(errors.IsTypeCoercion(err))

	// the next save recomputes the cached columns
	suite.Require().NoError(suite.engine.Instances.Save(suite.ctx, red, SaveOptions{}))
	stored := suite.reload(red)
	suite.Equal("Red", stored.DisplayString())
	suite.Require().NotNil(stored.UnicodeValue)
	suite.Equal("Red", *stored.UnicodeValue)
}

func (suite *EngineTestSuite) TestSaveRecomputesAndNotifies() {
	c := suite.catalog()
	suite.saved = nil

	phone, err := suite.engine.Instances.Create(suite.ctx, c.phone.ID, map[string]interface{}{"ram": 4096}, SaveOptions{})
	suite.Require().NoError(err)
	suite.Require().Len(suite.saved, 1)
	suite.True(suite.saved[0].Created)
	suite.Equal("Phone", suite.saved[0].ModelName)

	stored := suite.reload(phone)
	suite.Equal("Phone 4096 MB", stored.DisplayString())
	suite.True(stored.DecimalValue.Valid)
	suite.True(stored.DecimalValue.Decimal.Equal(decimal.NewFromInt(4096)))

	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, stored, "ram", 8192))
	suite.Require().NoError(suite.engine.Instances.Save(suite.ctx, stored, SaveOptions{}))
	suite.Require().Len(suite.saved, 2)
	suite.False(suite.saved[1].Created)
	suite.Equal("Phone 8192 MB", suite.reload(phone).DisplayString())

	// initial saves stay silent
	suite.Require().NoError(suite.engine.Instances.Save(suite.ctx, stored, SaveOptions{Initial: true}))
	suite.Len(suite.saved, 2)
}

func (suite *EngineTestSuite) TestUnicodeFunctionsWinOverTemplate() {
	c := suite.catalog()
	suite.engine.Hooks.RegisterUnicodeFunc("empty", func(ctx context.Context, r InstanceReader) (string, error) {
		return "", nil
	})
	suite.engine.Hooks.RegisterUnicodeFunc("phones", func(ctx context.Context, r InstanceReader) (string, error) {
		if r.Model().Name != "Phone" {
			return "", nil
		}
		ram, err := r.Get("ram")
		if err != nil || ram == nil {
			return "", err
		}
		return "Handset with " + decimal.NewFromInt(ram.(int64)).String() + " MB", nil
	})

	phone := suite.create(c.phone, map[string]interface{}{"ram": 2048})
	suite.Equal("Handset with 2048 MB", suite.reload(phone).DisplayString())

	color := suite.create(c.color, map[string]interface{}{"name": "Green"})
	suite.Equal("Green", suite.reload(color).DisplayString())
}

func (suite *EngineTestSuite) TestMultiFieldOrdering() {
	m := suite.createModel("Screen", "", "")
	suite.createField(m, suite.primitive(models.KindInteger), "width", false, false)
	suite.createField(m, suite.primitive(models.KindInteger), "height", false, false)
	suite.createField(m, suite.primitive(models.KindChar), "panel", true, false)
	suite.setOrdering(m, "width,height")

	wide := suite.create(m, map[string]interface{}{"width": 1920, "height": 1080})
	stored := suite.reload(wide)
	suite.True(stored.DecimalValue.Valid)
	want := decimal.NewFromInt(1920).Shift(15).Add(decimal.NewFromInt(1080))
	suite.True(want.Equal(stored.DecimalValue.Decimal), stored.DecimalValue.Decimal.String())

	suite.setOrdering(m, "panel,width")
	tagged := suite.create(m, map[string]interface{}{"width": 1280, "height": 720, "panel": "OLED"})
	stored = suite.reload(tagged)
	suite.Require().NotNil(stored.UnicodeValue)
	suite.Equal("OLED"+strings.Repeat(" ", 26)+strings.Repeat("0", 26)+"1280", *stored.UnicodeValue)
}

func (suite *EngineTestSuite) TestThreeNumericOrderingFields() {
	m := suite.createModel("Box", "{{.a}}-{{.b}}-{{.c}}", "")
	for _, name := range []string{"a", "b", "c"} {
		suite.createField(m, suite.primitive(models.KindInteger), name, false, false)
	}
	suite.setOrdering(m, "a,b,c")

	four := suite.create(m, map[string]interface{}{"a": 1, "b": 2, "c": 4})
	three := suite.create(m, map[string]interface{}{"a": 1, "b": 2, "c": 3})
	suite.create(m, map[string]interface{}{"a": 1, "b": 1, "c": 9})
	suite.create(m, map[string]interface{}{"a": 0, "b": 9, "c": 9})

	want := decimal.RequireFromString("1000000000000002000000000000003")
	stored := suite.reload(three).DecimalValue
	suite.True(want.Equal(stored.Decimal), stored.Decimal.String())
	suite.False(stored.Decimal.Equal(suite.reload(four).DecimalValue.Decimal))

	boxes, _, err := suite.engine.Instances.List(suite.ctx, InstanceListParams{ModelID: m.ID})
	suite.Require().NoError(err)
	var order []string
	for _, b := range boxes {
		order = append(order, b.DisplayString())
	}
	suite.Equal([]string{"0-9-9", "1-1-9", "1-2-3", "1-2-4"}, order)
}

func (suite *EngineTestSuite) TestOversizedNumericOrderingKey() {
	m := suite.createModel("Crate", "", "")
	values := map[string]interface{}{}
	var names []string
	for i := 0; i < 9; i++ {
		name := fmt.Sprintf("n%d", i)
		suite.createField(m, suite.primitive(models.KindInteger), name, false, false)
		values[name] = 1
		names = append(names, name)
	}
	suite.setOrdering(m, strings.Join(names, ","))

	_, err := suite.engine.Instances.Create(suite.ctx, m.ID, values, SaveOptions{})
	suite.True(errors.IsSchemaViolation(err))
}

func (suite *EngineTestSuite) TestDecimalAttributeRejectsNonFiniteFloats() {
	c := suite.catalog()
	suite.createField(c.phone, suite.primitive(models.KindDecimal), "price", true, false)
	phone := suite.create(c.phone, map[string]interface{}{"price": 19.5})

	for _, v := range []interface{}{math.NaN(), math.Inf(1), float32(math.Inf(-1))} {
		err := suite.engine.Instances.SetAttribute(suite.ctx, phone, "price", v)
		suite.Truef(errors.IsTypeCoercion(err), "accepted %v", v)
	}
	price := suite.get(suite.reload(phone), "price").(decimal.Decimal)
	suite.True(price.Equal(decimal.RequireFromString("19.5")))
}

func (suite *EngineTestSuite) TestListUsesOrderingKey() {
	c := suite.catalog()
	for _, ram := range []int{8192, 2048, 4096} {
		suite.create(c.phone, map[string]interface{}{"ram": ram})
	}

	phones, total, err := suite.engine.Instances.List(suite.ctx, InstanceListParams{ModelID: c.phone.ID})
	suite.Require().NoError(err)
	suite.Equal(int64(3), total)
	suite.Require().Len(phones, 3)
	suite.Equal("Phone 2048 MB", phones[0].DisplayString())
	suite.Equal("Phone 8192 MB", phones[2].DisplayString())
}

func (suite *EngineTestSuite) TestDeleteInstance() {
	c := suite.catalog()
	phone := suite.create(c.phone, map[string]interface{}{"ram": 4096, "colors": []interface{}{c.red, c.blue}})

	// red is still referenced, but only through a multiple field
	suite.Require().NoError(suite.engine.Instances.Delete(suite.ctx, c.red))
	colors := suite.get(phone, "colors").([]interface{})
	suite.Require().Len(colors, 1)
	suite.Equal(c.blue.ID, colors[0].(*models.InstanceModel).ID)

	// a color's owned name is required by the color itself, not by others
	name, err := suite.engine.Instances.GetInstances(suite.ctx, c.blue, "name")
	suite.Require().NoError(err)
	suite.Require().Len(name, 1)
	err = suite.engine.Instances.Delete(suite.ctx, name[0])
	suite.True(errors.IsIntegrityViolation(err))

	suite.Require().NoError(suite.engine.Instances.Delete(suite.ctx, phone))
	suite.Zero(suite.count(&models.InstanceField{}, "parent_id = ?", phone.ID))
	suite.Zero(suite.count(&models.InstanceModel{}, "model_id = ?", c.ram.ModelID))
	suite.Equal(int64(1), suite.count(&models.InstanceModel{}, "model_id = ?", c.color.ID))
}

func (suite *EngineTestSuite) TestCloneCopiesOwnedValues() {
	c := suite.catalog()
	phone := suite.create(c.phone, map[string]interface{}{"ram": 4096, "colors": []interface{}{c.red}})

	clone, err := suite.engine.Instances.Clone(suite.ctx, phone, SaveOptions{})
	suite.Require().NoError(err)
	suite.NotEqual(phone.ID, clone.ID)
	suite.Equal(int64(4096), suite.get(clone, "ram"))
	suite.Equal("Phone 4096 MB", suite.reload(clone).DisplayString())

	// changing the clone leaves the original alone
	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, clone, "ram", 1024))
	suite.Equal(int64(4096), suite.get(phone, "ram"))

	colors := suite.get(clone, "colors").([]interface{})
	suite.Require().Len(colors, 1)
	suite.Equal(c.red.ID, colors[0].(*models.InstanceModel).ID)
	suite.Equal(int64(2), suite.count(&models.InstanceModel{}, "model_id = ?", c.color.ID))
}

func (suite *EngineTestSuite) TestValidateDetectsMalformedStorage() {
	flag, err := suite.engine.Instances.CreatePrimitive(suite.ctx, models.KindBoolean, false, SaveOptions{})
	suite.Require().NoError(err)

	suite.Require().NoError(suite.db.Model(&models.InstanceModel{}).
		Where("id = ?", flag.ID).
		Update(models.ColumnDecimalValue, models.NewNullDecimal(decimal.NewFromInt(2))).Error)

	err = suite.engine.Instances.Validate(suite.ctx, suite.reload(flag))
	suite.True(errors.IsIntegrityViolation(err))
}
