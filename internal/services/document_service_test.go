package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/javajoker/catalog-metamodel/internal/models"
)

func (suite *EngineTestSuite) TestFlattenComposite() {
	c := suite.catalog()
	brand := suite.createModel("Brand", "{{.name}}", "")
	suite.createField(brand, suite.primitive(models.KindChar), "name", false, false)
	suite.createField(c.phone, brand, "brand", true, false)
	suite.createField(c.phone, suite.primitive(models.KindDecimal), "price", true, false)
	suite.createField(c.phone, suite.primitive(models.KindFile), "manual", true, false)

	acme := suite.create(brand, map[string]interface{}{"name": "Acme"})
	phone := suite.create(c.phone, map[string]interface{}{
		"ram":    4096,
		"brand":  acme,
		"price":  decimal.RequireFromString("299.99"),
		"manual": "manuals/x1.pdf",
		"colors": []interface{}{c.red, c.blue},
	})

	flat, err := suite.engine.Documents.Flatten(suite.ctx, suite.reload(phone))
	suite.Require().NoError(err)

	doc := flat.Fields
	suite.Equal(phone.ID.String(), doc["id"])
	suite.Equal("Phone 4096 MB", doc["unicode"])
	suite.Equal(int64(4096), doc["ram"])
	suite.Equal(299.99, doc["price"])
	suite.Equal("manuals/x1.pdf", doc["manual"])
	suite.Equal("Acme", doc["brand_unicode"])
	suite.Equal("Acme", doc["brand_name"])
	suite.Equal(acme.ID.String(), doc["brand_id"])
	suite.Equal([]interface{}{"Red", "Blue"}, doc["colors_name"])
	suite.Equal([]interface{}{c.red.ID.String(), c.blue.ID.String()}, doc["colors_id"])

	// fields are visited by name
	suite.Equal([]string{"Phone", "4096", "MB", "Acme", "Red", "Blue", "manuals/x1.pdf", "299.99"}, flat.Keywords)

	again, err := suite.engine.Documents.Flatten(suite.ctx, suite.reload(phone))
	suite.Require().NoError(err)
	suite.Equal(flat, again)
}

func (suite *EngineTestSuite) TestFlattenKeywordsAreDistinct() {
	c := suite.catalog()
	namesake := suite.create(c.color, map[string]interface{}{"name": "Phone"})
	phone := suite.create(c.phone, map[string]interface{}{
		"ram":    4096,
		"colors": []interface{}{namesake, c.red, namesake},
	})

	flat, err := suite.engine.Documents.Flatten(suite.ctx, suite.reload(phone))
	suite.Require().NoError(err)
	suite.Equal([]string{"Phone", "4096", "MB", "Red"}, flat.Keywords)
	suite.Equal([]interface{}{"Phone", "Red", "Phone"}, flat.Fields["colors_name"])
}

func (suite *EngineTestSuite) TestFlattenOmitsMissingValues() {
	c := suite.catalog()
	phone := suite.create(c.phone, nil)

	flat, err := suite.engine.Documents.Flatten(suite.ctx, suite.reload(phone))
	suite.Require().NoError(err)
	suite.NotContains(flat.Fields, "ram")
	suite.NotContains(flat.Fields, "colors_id")
	suite.Len(flat.Fields, 2)
}

func (suite *EngineTestSuite) TestFlattenStopsAtCycles() {
	part := suite.createModel("Part", "{{.label}}", "")
	suite.createField(part, suite.primitive(models.KindChar), "label", false, false)
	suite.createField(part, part, "spare", true, false)

	a := suite.create(part, map[string]interface{}{"label": "a"})
	b := suite.create(part, map[string]interface{}{"label": "b", "spare": a})
	suite.Require().NoError(suite.engine.Instances.SetAttribute(suite.ctx, a, "spare", b))

	flat, err := suite.engine.Documents.Flatten(suite.ctx, suite.reload(a))
	suite.Require().NoError(err)
	suite.Equal("b", flat.Fields["spare_label"])
	suite.NotContains(flat.Fields, "spare_spare_label")
}

func (suite *EngineTestSuite) TestDocumentFunctionsOnlyAdd() {
	c := suite.catalog()
	suite.engine.Hooks.RegisterDocumentFunc("tier", func(ctx context.Context, r InstanceReader, doc Document) (Document, error) {
		if r.Model().Name != "Phone" {
			return nil, nil
		}
		ram, err := r.Get("ram")
		if err != nil {
			return nil, err
		}
		tier := "basic"
		if ram != nil && ram.(int64) >= 8192 {
			tier = "pro"
		}
		return Document{"tier": tier, "ram": "overwritten"}, nil
	})

	phone := suite.create(c.phone, map[string]interface{}{"ram": 8192})
	flat, err := suite.engine.Documents.Flatten(suite.ctx, suite.reload(phone))
	suite.Require().NoError(err)
	suite.Equal("pro", flat.Fields["tier"])
	suite.Equal(int64(8192), flat.Fields["ram"])
}

func (suite *EngineTestSuite) TestFlattenPrimitive() {
	flag, err := suite.engine.Instances.CreatePrimitive(suite.ctx, models.KindBoolean, true, SaveOptions{})
	suite.Require().NoError(err)

	flat, err := suite.engine.Documents.Flatten(suite.ctx, suite.reload(flag))
	suite.Require().NoError(err)
	suite.Equal(true, flat.Fields["value"])
	suite.Equal([]string{"true"}, flat.Keywords)
}
