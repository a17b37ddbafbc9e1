package planner

// Built-in collection names.
const (
	MissionsCollection = "missions"
	AssetsCollection   = "assets"
	DefectsCollection  = "defects"
	SalesCollection    = "sales"

	// SalesDatabase is the database alias holding SalesCollection.
	SalesDatabase = "sales"
)

const missionsSchema = `
1. _id: Unique identifier of the mission.
2. missionPlanName: Name of the mission.
3. assetName: Name of the asset or spot robot that ran the mission.
4. inspectionCoverage: The area the asset covers.
5. status: Mission status. One of Scheduled, Cancelled, In Progress, Failed, Aborted, Awaiting Review, In Review, Reviewed.
6. scheduledTimeStamp: When the mission is scheduled (date).
7. updatedTimeStamp: When the mission was last updated or completed (date).
8. noOfImages: Number of images taken in the mission.
9. noOfDefects: Number of defects found in the mission.
10. missionType: Interior or Exterior.
11. carNo: The car or train car number.
12. inProgressWayPoint: Embedded object for a running mission:
    - progress: Progress of the mission.
    - currentActionPoint: The current action of the mission.
13. images: Array of images, each with:
    - filePath: Image file name.
    - imageStatus: Whether the image was reviewed.
    - boundingBoxes: Array of detected defects, each with:
        - label: Name of the defect.
        - confidence: Detection confidence between 0 and 1.
14. reason: Why the mission failed or was aborted.
`

const assetsSchema = `
1. _id: Unique identifier of the asset.
2. assetName: Name of the spot robot.
3. status: Current status such as Online, Offline, Docked, On Mission.
4. batteryLevel: Battery charge in percent.
5. lastSeenTimeStamp: Last heartbeat from the robot (date).
6. location: Site where the robot is stationed.
`

const defectsSchema = `
1. _id: Unique identifier of the defect record.
2. missionId: Identifier of the mission that found the defect.
3. label: Name of the defect.
4. confidence: Detection confidence between 0 and 1.
5. filePath: Image file containing the defect.
6. carNo: Car the defect was found on.
7. detectedTimeStamp: When the defect was detected (date).
8. reviewStatus: Pending, Confirmed or Rejected.
`

const salesSchema = `
1. saleDate: Date and time of the sale (date).
2. items: Array of purchased items, each with:
    - name: Item name.
    - tags: Array of category tags such as office or school.
    - price: Price of one item in USD (decimal).
    - quantity: Number of units bought.
3. storeLocation: City of the store, for example Denver.
4. customer: Embedded object:
    - gender: M or F.
    - age: Age in years.
    - email: Email address.
    - satisfaction: Rating from 1 (low) to 5 (high).
5. couponUsed: Whether a coupon was used (boolean).
6. purchaseMethod: Online, In store or Phone.
`

func defaultCollections() []Collection {
	return []Collection{
		{
			Name:        MissionsCollection,
			Description: "Quality inspection missions with their images and detected defects",
			Schema:      missionsSchema,
			Examples: []Example{
				{
					Question: "How many missions are in progress and what are their names?",
					Plan:     `[{"$match": {"status": "In Progress"}}, {"$project": {"_id": 0, "missionPlanName": 1}}]`,
				},
				{
					Question: "List all the defects found in the last mission",
					Plan:     `[{"$sort": {"updatedTimeStamp": -1}}, {"$limit": 1}, {"$project": {"_id": 0, "images.boundingBoxes.label": 1}}]`,
				},
				{
					Question: "How many missions failed since March 2024?",
					Plan:     `[{"$match": {"status": "Failed", "scheduledTimeStamp": {"$gte": ISODate("2024-03-01T00:00:00Z")}}}, {"$count": "failedMissions"}]`,
				},
			},
		},
		{
			Name:        AssetsCollection,
			Description: "Spot robots with their status and battery level",
			Schema:      assetsSchema,
			Examples: []Example{
				{
					Question: "Which robots have less than 20 percent battery?",
					Plan:     `[{"$match": {"batteryLevel": {"$lt": 20}}}, {"$project": {"_id": 0, "assetName": 1, "batteryLevel": 1}}]`,
				},
			},
		},
		{
			Name:        DefectsCollection,
			Description: "Individual defect detections",
			Schema:      defectsSchema,
			Examples: []Example{
				{
					Question: "What are the most common defects?",
					Plan:     `[{"$group": {"_id": "$label", "count": {"$sum": 1}}}, {"$sort": {"count": -1}}, {"$limit": 5}]`,
				},
			},
		},
		{
			Name:        SalesCollection,
			Database:    SalesDatabase,
			Description: "Retail sales with purchased items and customer details",
			Schema:      salesSchema,
			Examples: []Example{
				{
					Question: "Retrieve store locations and their total sales amounts",
					Plan:     `[{"$unwind": "$items"}, {"$group": {"_id": "$storeLocation", "totalSales": {"$sum": {"$multiply": ["$items.price", "$items.quantity"]}}}}, {"$project": {"_id": 0, "storeLocation": "$_id", "totalSales": 1}}]`,
				},
				{
					Question: "Retrieve sales grouped by month for 2017 with total amounts",
					Plan:     `[{"$match": {"saleDate": {"$gte": ISODate("2017-01-01T00:00:00Z"), "$lt": ISODate("2018-01-01T00:00:00Z")}}}, {"$unwind": "$items"}, {"$group": {"_id": {"$month": "$saleDate"}, "total": {"$sum": {"$multiply": ["$items.price", "$items.quantity"]}}}}, {"$sort": {"_id": 1}}, {"$project": {"_id": 0, "month": "$_id", "total": 1}}]`,
				},
				{
					Question: "Retrieve the count of sales for each purchase method",
					Plan:     `[{"$group": {"_id": "$purchaseMethod", "count": {"$sum": 1}}}, {"$project": {"_id": 0, "purchaseMethod": "$_id", "count": 1}}]`,
				},
			},
		},
	}
}
