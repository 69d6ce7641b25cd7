package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_queue_requests",
			"name": "queue_requests",
			"type": "base",
			"system": false,
			"fields": [
				{
					"id": "text_instance",
					"name": "instance_id",
					"type": "text",
					"required": true,
					"presentable": false,
					"system": false
				},
				{
					"id": "number_cycle",
					"name": "cycle",
					"type": "number",
					"required": false,
					"presentable": false,
					"system": false,
					"onlyInt": true,
					"min": 0
				},
				{
					"id": "text_marketplace",
					"name": "marketplace_id",
					"type": "text",
					"required": true,
					"presentable": false,
					"system": false
				},
				{
					"id": "text_user",
					"name": "user_id",
					"type": "text",
					"required": true,
					"presentable": false,
					"system": false
				},
				{
					"id": "text_wallet",
					"name": "wallet_address",
					"type": "text",
					"required": true,
					"presentable": false,
					"system": false
				},
				{
					"id": "json_nft_ids",
					"name": "nft_ids",
					"type": "json",
					"required": false,
					"presentable": false,
					"system": false,
					"maxSize": 10000
				},
				{
					"id": "select_status",
					"name": "status",
					"type": "select",
					"required": true,
					"presentable": false,
					"system": false,
					"maxSelect": 1,
					"values": [
						"pending",
						"processing",
						"refunded",
						"minted",
						"failed"
					]
				},
				{
					"id": "text_tx",
					"name": "tx_id",
					"type": "text",
					"required": false,
					"presentable": false,
					"system": false
				},
				{
					"id": "text_error",
					"name": "error",
					"type": "text",
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
				"CREATE INDEX idx_queue_requests_cycle ON queue_requests (instance_id, cycle, status)",
				"CREATE INDEX idx_queue_requests_wallet ON queue_requests (instance_id, cycle, wallet_address)"
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
		collection, err := app.FindCollectionByNameOrId("pbc_queue_requests")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
