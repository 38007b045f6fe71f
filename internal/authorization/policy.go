package authorization

import (
	"github.com/casbin/casbin/v2"
)

func roleSubject(role Role) string {
	return "role:" + string(role)
}

var rolePolicies = map[Role][][2]string{
	RoleAdmin: {
		{ObjectProgram, ActionProgramManage},
		{ObjectProgram, ActionProgramApprove},
		{ObjectProgram, ActionProgramDistribute},
		{ObjectInventory, ActionInventoryManage},
		{ObjectInventory, ActionInventoryManageCost},
		{ObjectAllocation, ActionAllocationManage},
		{ObjectCalculation, ActionCalculationManage},
		{ObjectBeneficiary, ActionBeneficiaryEnroll},
		{ObjectBeneficiary, ActionBeneficiaryApprove},
		{ObjectBeneficiary, ActionBeneficiaryOverride},
		{ObjectDisbursement, ActionDisbursementRelease},
		{ObjectDisbursement, ActionDisbursementClose},
	},
	RoleCoordinator: {
		{ObjectProgram, ActionProgramManage},
		{ObjectProgram, ActionProgramDistribute},
		{ObjectInventory, ActionInventoryManage},
		{ObjectAllocation, ActionAllocationManage},
		{ObjectCalculation, ActionCalculationManage},
		{ObjectBeneficiary, ActionBeneficiaryEnroll},
		{ObjectBeneficiary, ActionBeneficiaryApprove},
		{ObjectBeneficiary, ActionBeneficiaryOverride},
		{ObjectDisbursement, ActionDisbursementRelease},
		{ObjectDisbursement, ActionDisbursementClose},
	},
	RoleEncoder: {
		{ObjectBeneficiary, ActionBeneficiaryEnroll},
		{ObjectCalculation, ActionCalculationManage},
	},
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	for role, rules := range rolePolicies {
		subject := roleSubject(role)
		for _, rule := range rules {
			has, err := enforcer.HasPolicy(subject, rule[0], rule[1])
			if err != nil {
				return err
			}
			if has {
				continue
			}
			if _, err := enforcer.AddPolicy(subject, rule[0], rule[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
