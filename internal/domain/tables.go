package domain

var Tables = []interface{}{
	// Inventory
	&InventoryEntry{},
	&ProductAvailability{},
	// Floor
	&DiningTable{},
	&Order{},
	&OrderLine{},
	&SplitRecord{},
	// Settlement
	&PaymentRecord{},
	&PaymentItem{},
	&DebtRecord{},
	&DebtPayment{},
	// Notify
	&OutboxEvent{},
}
