package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_queue_instances",
			"name": "queue_instances",
			"type": "base",
			"system": false,
			"fields": [
				{
					"id": "text_marketplace",
					"name": "marketplace_id",
					"type": "text",
					"required": true,
					"presentable": false,
					"system": false
				},
				{
					"id": "text_instance",
					"name": "instance_id",
					"type": "text",
					"required": true,
					"presentable": false,
					"system": false
				},
				{
					"id": "json_config",
					"name": "config",
					"type": "json",
					"required": false,
					"presentable": false,
					"system": false,
					"maxSize": 5000
				},
				{
					"id": "bool_active",
					"name": "active",
					"type": "bool",
					"required": false,
					"presentable": false,
					"system": false
				},
				{
					"id": "autodate_created",
					"name": "created",
					"type": "autodate",
					"onCreate": true,
					"onUpdate": false,
					"system": false
				},
				{
					"id": "autodate_updated",
					"name": "updated",
					"type": "autodate",
					"onCreate": true,
					"onUpdate": true,
					"system": false
				}
			],
			"indexes": [
				"CREATE INDEX idx_queue_instances_marketplace ON queue_instances (marketplace_id)"
			],
			"listRule": null,
			"viewRule": null,
			"createRule": null,
			"updateRule": null,
			"deleteRule": null
		}`

		collection := &core.Collection{}
		if err := json.Unmarshal([]byte(jsonData), &collection); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("pbc_queue_instances")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
